package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lrgstore/idstore/internal/app/cache"
	"github.com/lrgstore/idstore/internal/app/domain/product"
	"github.com/lrgstore/idstore/internal/app/storage/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store, string) {
	t.Helper()
	store := memory.New()
	dir := t.TempDir()
	return New(store, cache.NewMemory(), dir, nil), store, dir
}

func TestCreateAndList(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, product.Product{Name: "Starter Account", Price: 100})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected id to be generated")
	}

	views, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 product, got %d", len(views))
	}
	if views[0].Available != 0 {
		t.Fatalf("expected no stock, got %d", views[0].Available)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, product.Product{Name: "  ", Price: 10}); err == nil {
		t.Fatal("expected error for blank name")
	}
	if _, err := svc.Create(ctx, product.Product{Name: "x", Price: -1}); err == nil {
		t.Fatal("expected error for negative price")
	}
}

func TestAddStockWritesFile(t *testing.T) {
	svc, _, dir := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, product.Product{Name: "Starter Account", Price: 100})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	content := []byte(`<?xml version="1.0"?><map><string name="uid">abc</string></map>`)
	item, err := svc.AddStock(ctx, p.ID, content)
	if err != nil {
		t.Fatalf("add stock: %v", err)
	}
	if filepath.Dir(item.CredentialFile) != filepath.Join(dir, "stock") {
		t.Fatalf("credential file in unexpected dir: %s", item.CredentialFile)
	}
	got, err := os.ReadFile(item.CredentialFile)
	if err != nil {
		t.Fatalf("read credential file: %v", err)
	}
	if string(got) != string(content) {
		t.Fatal("credential file content mismatch")
	}

	view, err := svc.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.Available != 1 {
		t.Fatalf("expected 1 available, got %d", view.Available)
	}
}

func TestAddStockRejectsEmptyAndUnknownProduct(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, product.Product{Name: "Starter Account", Price: 100})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.AddStock(ctx, p.ID, nil); err == nil {
		t.Fatal("expected error for empty content")
	}
	if _, err := svc.AddStock(ctx, "missing", []byte("<map/>")); err == nil {
		t.Fatal("expected error for unknown product")
	}
}

func TestSaveImage(t *testing.T) {
	svc, _, dir := newTestService(t)

	path, err := svc.SaveImage("cover.PNG", []byte{0x89, 'P', 'N', 'G'})
	if err != nil {
		t.Fatalf("save image: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(dir, "images") {
		t.Fatalf("image in unexpected dir: %s", path)
	}
	if filepath.Ext(path) != ".png" {
		t.Fatalf("expected lowercased extension, got %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stat image: %v", err)
	}

	if _, err := svc.SaveImage("notes.txt", []byte("x")); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
	if _, err := svc.SaveImage("cover.png", nil); err == nil {
		t.Fatal("expected error for empty image")
	}
}

func TestRemoveStockDeletesFile(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, product.Product{Name: "Starter Account", Price: 100})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	item, err := svc.AddStock(ctx, p.ID, []byte("<map/>"))
	if err != nil {
		t.Fatalf("add stock: %v", err)
	}

	if err := svc.RemoveStock(ctx, item.ID); err != nil {
		t.Fatalf("remove stock: %v", err)
	}
	if _, err := os.Stat(item.CredentialFile); !os.IsNotExist(err) {
		t.Fatal("expected credential file to be removed")
	}
}

func TestListCacheInvalidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, product.Product{Name: "First", Price: 10}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.List(ctx); err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	// A second create must invalidate the cached listing.
	if _, err := svc.Create(ctx, product.Product{Name: "Second", Price: 20}); err != nil {
		t.Fatalf("create: %v", err)
	}
	views, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 products after invalidation, got %d", len(views))
	}
}
