package runner_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/ErlanBelekov/pwchain/internal/runner"
	"github.com/spf13/afero"
)

func TestClean_RemovesAttemptDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/work/wc/a1/out/aiida.save/data-file-schema.xml", []byte("<x/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := runner.NewCleaner(fs, "/work")

	if err := c.Clean(context.Background(), domain.RemoteFolder{Path: "/work/wc/a1"}); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if ok, _ := afero.DirExists(fs, "/work/wc/a1"); ok {
		t.Error("attempt dir still exists")
	}
	if ok, _ := afero.DirExists(fs, "/work/wc"); !ok {
		t.Error("parent dir must survive")
	}
}

func TestClean_MissingDirIsNotAnError(t *testing.T) {
	c := runner.NewCleaner(afero.NewMemMapFs(), "/work")

	if err := c.Clean(context.Background(), domain.RemoteFolder{Path: "/work/gone"}); err != nil {
		t.Errorf("Clean: %v", err)
	}
}

func TestClean_RefusesPathsOutsideRoot(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/etc/passwd", []byte("root"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := runner.NewCleaner(fs, "/work")

	for _, p := range []string{"/etc", "/work", "/work/../etc", "/"} {
		err := c.Clean(context.Background(), domain.RemoteFolder{Path: p})
		if !errors.Is(err, runner.ErrOutsideWorkDir) {
			t.Errorf("Clean(%q) err = %v, want ErrOutsideWorkDir", p, err)
		}
	}
	if ok, _ := afero.Exists(fs, "/etc/passwd"); !ok {
		t.Error("file outside root was removed")
	}
}

func TestClean_CancelledContext(t *testing.T) {
	c := runner.NewCleaner(afero.NewMemMapFs(), "/work")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Clean(ctx, domain.RemoteFolder{Path: "/work/a"}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
