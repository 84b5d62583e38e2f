package localfs

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/equity-lens/internal/core/domain"
)

func TestSaveAndOpenNestedKey(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	key := "p1/f1_survey.txt"
	if err := store.Save(context.Background(), key, strings.NewReader("residents fear displacement")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	reader, err := store.Open(context.Background(), key)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer reader.Close()

	raw, _ := io.ReadAll(reader)
	if string(raw) != "residents fear displacement" {
		t.Fatalf("unexpected content %q", raw)
	}
}

func TestOpenMissingObject(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = store.Open(context.Background(), "p1/missing.txt")
	if !domain.IsKind(err, domain.ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
}

func TestRejectsKeysOutsideBase(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, key := range []string{"", "../escape.txt", "/etc/passwd", "p1/../../escape.txt"} {
		if err := store.Save(context.Background(), key, strings.NewReader("x")); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("Save(%q): expected ErrInvalidInput, got %v", key, err)
		}
	}
}
