package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/kubilitics/kubilitics-guardrail/internal/audit"
	"github.com/kubilitics/kubilitics-guardrail/internal/config"
	"github.com/kubilitics/kubilitics-guardrail/internal/db"
	mcpserver "github.com/kubilitics/kubilitics-guardrail/internal/mcp/server"
	"github.com/kubilitics/kubilitics-guardrail/internal/mcp/tools/execution"
)

func int32Ptr(n int32) *int32 { return &n }

func TestNew_Defaults(t *testing.T) {
	a, err := New(config.DefaultConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop() })

	assert.Nil(t, a.Cluster)
	assert.Nil(t, a.Archive)
	assert.Len(t, a.Tools.ListTools(), 4)

	out, err := a.Tools.ExecuteTool(context.Background(), mcpserver.ToolScaleDeployment, map[string]interface{}{
		"namespace": "default", "name": "web-app", "replicas": 3,
	})
	require.NoError(t, err)
	result := out.(*execution.Result)
	assert.Equal(t, execution.StatusSimulated, result.Status)
	assert.Nil(t, result.PreviousReplicas)

	// Without a cluster client a real change cannot be made.
	out, err = a.Tools.ExecuteTool(context.Background(), mcpserver.ToolScaleDeployment, map[string]interface{}{
		"namespace": "default", "name": "web-app", "replicas": 3, "dry_run": false,
	})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusFailed, out.(*execution.Result).Status)
	assert.Equal(t, 2, a.Trail.TotalCount())
}

func TestNew_InvalidPolicy(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Guardrail.ProtectedNamePatterns = []string{"([unclosed"}

	_, err := New(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid guardrail policy")
}

func TestNew_DisabledTools(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Tools.Disabled = []string{mcpserver.ToolRestartPod}

	a, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop() })

	_, err = a.Tools.ExecuteTool(context.Background(), mcpserver.ToolRestartPod, map[string]interface{}{"name": "web-1"})
	assert.ErrorIs(t, err, mcpserver.ErrToolNotFound)
}

func TestNew_FullStack(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Cluster.Enabled = true
	cfg.Audit.File.Enabled = true
	cfg.Audit.File.Path = filepath.Join(dir, "audit.log")
	cfg.Audit.Archive.Enabled = true
	cfg.Audit.Archive.SQLitePath = filepath.Join(dir, "audit.db")

	clientset := fake.NewSimpleClientset(
		&appsv1.Deployment{
			ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "web-app"},
			Spec:       appsv1.DeploymentSpec{Replicas: int32Ptr(2)},
		},
		&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "web-app-1"}},
	)

	a, err := New(cfg, nil, WithClientset(clientset))
	require.NoError(t, err)
	require.NotNil(t, a.Cluster)
	require.NotNil(t, a.Archive)

	ctx := context.Background()

	// Dry run reads the live replica count.
	out, err := a.Tools.ExecuteTool(ctx, mcpserver.ToolScaleDeployment, map[string]interface{}{
		"namespace": "default", "name": "web-app", "replicas": 5,
	})
	require.NoError(t, err)
	result := out.(*execution.Result)
	assert.Equal(t, execution.StatusSimulated, result.Status)
	require.NotNil(t, result.PreviousReplicas)
	assert.Equal(t, 2, *result.PreviousReplicas)

	out, err = a.Tools.ExecuteTool(ctx, mcpserver.ToolScaleDeployment, map[string]interface{}{
		"namespace": "default", "name": "web-app", "replicas": 5, "dry_run": false,
	})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, out.(*execution.Result).Status)

	dep, err := clientset.AppsV1().Deployments("default").Get(ctx, "web-app", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(5), *dep.Spec.Replicas)

	out, err = a.Tools.ExecuteTool(ctx, mcpserver.ToolRestartPod, map[string]interface{}{
		"name": "web-app-1", "dry_run": false,
	})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, out.(*execution.Result).Status)

	_, err = clientset.CoreV1().Pods("default").Get(ctx, "web-app-1", metav1.GetOptions{})
	assert.True(t, apierrors.IsNotFound(err))

	out, err = a.Tools.ExecuteTool(ctx, mcpserver.ToolRestartPod, map[string]interface{}{
		"name": "coredns-abc", "namespace": "kube-system", "dry_run": false,
	})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusBlocked, out.(*execution.Result).Status)

	require.NoError(t, a.Start())
	assert.NotEmpty(t, a.HTTP.Addr())
	require.NoError(t, a.Stop())
	assert.False(t, a.HTTP.IsRunning())
	assert.Equal(t, 4, a.Trail.TotalCount())

	// Both mirrors received every entry once the trail was drained.
	content, err := os.ReadFile(cfg.Audit.File.Path)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(content)), "\n"), 4)

	store, err := db.NewSQLiteStore(cfg.Audit.Archive.SQLitePath)
	require.NoError(t, err)
	defer store.Close()

	count, err := store.CountAuditEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	blocked, err := store.QueryAuditEntries(ctx, db.AuditQuery{Result: string(audit.OutcomeBlocked)})
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, "kube-system/coredns-abc", blocked[0].Target)
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)
}
