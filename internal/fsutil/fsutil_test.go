package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestListImagesFindsOnlyRecognizedExtensionsRecursively(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	touch(t, filepath.Join(dir, "a.JPG"))
	touch(t, filepath.Join(sub, "b.cr2"))
	touch(t, filepath.Join(dir, "notes.txt"))

	got, err := ListImages(dir)
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 recognized images, got %d: %v", len(got), got)
	}
}

func TestFirstExistingReturnsFirstPathThatExists(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present.jpg")
	touch(t, present)

	got := FirstExisting(filepath.Join(dir, "missing.jpg"), present, filepath.Join(dir, "also-missing.jpg"))
	if got != present {
		t.Fatalf("want %q, got %q", present, got)
	}
}

func TestFirstExistingReturnsEmptyWhenNoneExist(t *testing.T) {
	dir := t.TempDir()
	got := FirstExisting(filepath.Join(dir, "a.jpg"), filepath.Join(dir, "b.jpg"))
	if got != "" {
		t.Fatalf("want empty string when nothing exists, got %q", got)
	}
}

func TestIsRAWFileAndIsImageFileAreCaseInsensitive(t *testing.T) {
	if !IsRAWFile("photo.CR2") {
		t.Fatal("want .CR2 recognized as raw")
	}
	if IsRAWFile("photo.jpg") {
		t.Fatal("want .jpg not recognized as raw")
	}
	if !IsImageFile("photo.JPEG") {
		t.Fatal("want .JPEG recognized as an image")
	}
	if IsImageFile("notes.txt") {
		t.Fatal("want .txt not recognized as an image")
	}
}

func TestSeparateRAWAndProcessedSplitsByExtension(t *testing.T) {
	raw, processed := SeparateRAWAndProcessed([]string{"a.nef", "b.jpg", "c.txt", "d.dng"})
	if len(raw) != 2 || len(processed) != 1 {
		t.Fatalf("want 2 raw and 1 processed, got raw=%v processed=%v", raw, processed)
	}
}
