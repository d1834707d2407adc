package reactor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"htmlporter/internal/marker"
	"htmlporter/internal/propagate"
	"htmlporter/internal/registry"
	"htmlporter/internal/workspace"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	root    workspace.Root
	store   *registry.Store
	reactor *Reactor
}

func newFixture(t *testing.T, debounce time.Duration) *fixture {
	t.Helper()
	root, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	store := registry.Open(root, ".vscode/htmlTemplates.json")
	r, err := New(store, propagate.New(store), debounce)
	require.NoError(t, err)
	t.Cleanup(r.Stop)
	return &fixture{root: root, store: store, reactor: r}
}

func (f *fixture) write(t *testing.T, id, content string) {
	t.Helper()
	path := f.root.Abs(id)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func (f *fixture) read(t *testing.T, id string) string {
	t.Helper()
	data, err := os.ReadFile(f.root.Abs(id))
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) register(t *testing.T, id string, targets ...string) {
	t.Helper()
	_, err := f.store.AddTemplate(id)
	require.NoError(t, err)
	for _, target := range targets {
		_, err := f.store.AddTarget(id, target)
		require.NoError(t, err)
	}
}

func TestStart_ArmsRegisteredTemplates(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.write(t, "t.html", "<p>Hi</p>")
	f.write(t, "a.html", "<body>"+marker.Wrap("gone content", "gone.html")+"</body>")
	f.register(t, "t.html", "a.html")
	f.register(t, "gone.html", "a.html")

	require.NoError(t, f.reactor.Start(context.Background()))

	assert.Equal(t, []string{"t.html"}, f.reactor.Watched())
	assert.Equal(t, "<body></body>", f.read(t, "a.html"), "missing template stripped at startup")

	_, err := f.store.Get("gone.html")
	assert.ErrorIs(t, err, registry.ErrTemplateNotFound)
}

func TestStart_FailingTemplateDoesNotBlockOthers(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks are bypassed for root")
	}
	f := newFixture(t, time.Hour)
	f.write(t, "good.html", "<p>ok</p>")
	f.write(t, "locked/a.html", marker.Wrap("stale", "gone.html"))
	f.register(t, "gone.html", "locked/a.html")
	f.register(t, "good.html")

	lockedDir := f.root.Abs("locked")
	require.NoError(t, os.Chmod(lockedDir, 0555))
	t.Cleanup(func() { _ = os.Chmod(lockedDir, 0755) })

	require.NoError(t, f.reactor.Start(context.Background()))

	assert.Equal(t, []string{"good.html"}, f.reactor.Watched())
	assert.GreaterOrEqual(t, f.reactor.Stats().Errors, 1)
}

func TestStop_ReleasesWithoutTouchingRegistry(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.write(t, "t.html", "x")
	f.register(t, "t.html", "a.html")

	require.NoError(t, f.reactor.Start(context.Background()))
	before, err := os.ReadFile(f.store.Path())
	require.NoError(t, err)

	f.reactor.Stop()
	assert.Empty(t, f.reactor.Watched())

	after, err := os.ReadFile(f.store.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)

	assert.ErrorIs(t, f.reactor.Start(context.Background()), ErrStopped)
}

func TestArm_OneWatchPerTemplate(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.write(t, "t.html", "x")
	f.write(t, "u.html", "y")
	f.register(t, "t.html")

	ctx := context.Background()
	require.NoError(t, f.reactor.Arm(ctx, "t.html"))
	require.NoError(t, f.reactor.Arm(ctx, "t.html"))
	require.NoError(t, f.reactor.Arm(ctx, "u.html"))

	assert.Equal(t, []string{"t.html", "u.html"}, f.reactor.Watched())
	assert.Equal(t, 2, f.reactor.Stats().Armed)
	assert.Equal(t, 2, f.reactor.dirRefs[f.root.Dir()], "both templates share one directory subscription")
}

func TestArm_MissingTemplateIsTreatedAsDeleted(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.write(t, "a.html", "x"+marker.Wrap("old", "t.html")+"y")
	f.register(t, "t.html", "a.html", "b.html")

	require.NoError(t, f.reactor.Arm(context.Background(), "t.html"))

	assert.Empty(t, f.reactor.Watched())
	assert.Equal(t, "xy", f.read(t, "a.html"))
	list, err := f.store.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestHandlePath_Modified(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.write(t, "t.html", "<p>Hi</p>")
	f.write(t, "a.html", marker.Wrap("old", "t.html"))
	f.register(t, "t.html", "a.html", "missing.html")

	ctx := context.Background()
	require.NoError(t, f.reactor.Arm(ctx, "t.html"))

	f.reactor.handlePath(ctx, f.root.Abs("t.html"))
	assert.Equal(t, marker.Wrap("<p>Hi</p>", "t.html"), f.read(t, "a.html"))

	tmpl, err := f.store.Get("t.html")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.html"}, tmpl.Targets, "missing target pruned")

	f.reactor.handlePath(ctx, f.root.Abs("t.html"))
	stats := f.reactor.Stats()
	assert.Equal(t, 2, stats.Modified)
	assert.Equal(t, 1, stats.Unchanged)
}

func TestHandlePath_SameContentStillPropagates(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.write(t, "t.html", "<p>Hi</p>")
	f.write(t, "a.html", marker.Wrap("old", "t.html"))
	f.register(t, "t.html", "a.html")

	ctx := context.Background()
	require.NoError(t, f.reactor.Arm(ctx, "t.html"))
	f.reactor.handlePath(ctx, f.root.Abs("t.html"))
	require.Equal(t, marker.Wrap("<p>Hi</p>", "t.html"), f.read(t, "a.html"))

	// Hand-edit the block and add a target that does not exist, then save
	// the template with identical bytes.
	f.write(t, "a.html", marker.Wrap("edited by hand", "t.html"))
	_, err := f.store.AddTarget("t.html", "gone.html")
	require.NoError(t, err)
	f.write(t, "t.html", "<p>Hi</p>")

	f.reactor.handlePath(ctx, f.root.Abs("t.html"))

	assert.Equal(t, marker.Wrap("<p>Hi</p>", "t.html"), f.read(t, "a.html"), "block repaired")
	tmpl, err := f.store.Get("t.html")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.html"}, tmpl.Targets, "missing target pruned")
	assert.Equal(t, 1, f.reactor.Stats().Unchanged)
}

func TestHandlePath_Deleted(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.write(t, "t.html", "<p>Hi</p>")
	f.write(t, "a.html", "<main>"+marker.Wrap("<p>Hi</p>", "t.html")+"</main>")
	f.register(t, "t.html", "a.html")

	ctx := context.Background()
	require.NoError(t, f.reactor.Arm(ctx, "t.html"))
	require.NoError(t, os.Remove(f.root.Abs("t.html")))

	f.reactor.handlePath(ctx, f.root.Abs("t.html"))

	assert.Equal(t, "<main></main>", f.read(t, "a.html"))
	assert.Empty(t, f.reactor.Watched())
	_, err := f.store.Get("t.html")
	assert.ErrorIs(t, err, registry.ErrTemplateNotFound)
	assert.Equal(t, 1, f.reactor.Stats().Deleted)
}

func TestHandlePath_UnwatchedIgnored(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.write(t, "t.html", "x")
	f.register(t, "t.html")

	f.reactor.handlePath(context.Background(), f.root.Abs("t.html"))
	assert.Zero(t, f.reactor.Stats().Modified)
}

func TestResync_ReleasesUnregistered(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.write(t, "t.html", "x")
	f.register(t, "t.html")

	ctx := context.Background()
	require.NoError(t, f.reactor.Resync(ctx))
	assert.Equal(t, []string{"t.html"}, f.reactor.Watched())

	_, err := f.store.RemoveTemplate("t.html")
	require.NoError(t, err)
	require.NoError(t, f.reactor.Resync(ctx))
	assert.Empty(t, f.reactor.Watched())
}

func TestReactor_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("filesystem notifications")
	}
	f := newFixture(t, 20*time.Millisecond)
	f.write(t, "t.html", "v1")
	f.write(t, "a.html", "<div>\n"+marker.Wrap("v1", "t.html")+"\n</div>")
	f.register(t, "t.html", "a.html")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.reactor.Start(ctx))

	f.write(t, "t.html", "v2")
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(f.root.Abs("a.html"))
		return err == nil && string(data) == "<div>\n"+marker.Wrap("v2", "t.html")+"\n</div>"
	}, 5*time.Second, 20*time.Millisecond)

	// A template registered by another process is armed from the store.
	f.write(t, "n.html", "new")
	f.register(t, "n.html")
	require.Eventually(t, func() bool {
		return len(f.reactor.Watched()) == 2
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(f.root.Abs("t.html")))
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(f.root.Abs("a.html"))
		return err == nil && string(data) == "<div>\n\n</div>"
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := f.store.Get("t.html")
		return err != nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"n.html"}, f.reactor.Watched())
}
