package registry

import (
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := t.TempDir() + "/registry.db"
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveAndGetClient(t *testing.T) {
	db := openTestDB(t)

	c := &ClientRecord{
		ID:           "client-1",
		Name:         "rtcore0",
		CPU:          1,
		BackendKind:  "baremetal",
		FirmwarePath: "/lib/firmware/rtcore0.elf",
		State:        "offline",
		CreatedAt:    time.Now().Truncate(time.Second),
	}
	if err := db.SaveClient(c); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetClient("client-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected client, got nil")
	}
	if got.Name != "rtcore0" {
		t.Errorf("Name = %q, want rtcore0", got.Name)
	}
	if got.CPU != 1 {
		t.Errorf("CPU = %d, want 1", got.CPU)
	}
	if got.BackendKind != "baremetal" {
		t.Errorf("BackendKind = %q, want baremetal", got.BackendKind)
	}
	if got.FirmwarePath != "/lib/firmware/rtcore0.elf" {
		t.Errorf("FirmwarePath = %q, want /lib/firmware/rtcore0.elf", got.FirmwarePath)
	}
}

func TestGetClient_NotFound(t *testing.T) {
	db := openTestDB(t)

	got, err := db.GetClient("nonexistent")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil for nonexistent client, got %+v", got)
	}
}

func TestGetClientByName(t *testing.T) {
	db := openTestDB(t)

	db.SaveClient(&ClientRecord{ID: "client-1", Name: "alpha", BackendKind: "baremetal", FirmwarePath: "/a.elf"})
	db.SaveClient(&ClientRecord{ID: "client-2", Name: "beta", BackendKind: "hypervisor", FirmwarePath: "/b.elf"})

	got, err := db.GetClientByName("beta")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected client for name beta, got nil")
	}
	if got.ID != "client-2" {
		t.Errorf("ID = %q, want client-2", got.ID)
	}
}

func TestListClients(t *testing.T) {
	db := openTestDB(t)

	db.SaveClient(&ClientRecord{
		ID: "client-1", Name: "alpha", BackendKind: "baremetal", FirmwarePath: "/a.elf",
		CreatedAt: time.Now().Add(-2 * time.Hour),
	})
	db.SaveClient(&ClientRecord{
		ID: "client-2", Name: "beta", BackendKind: "baremetal", FirmwarePath: "/b.elf",
		CreatedAt: time.Now().Add(-1 * time.Hour),
	})

	list, err := db.ListClients()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 clients, got %d", len(list))
	}
	if list[0].ID != "client-2" {
		t.Errorf("first client ID = %q, want client-2 (most recent)", list[0].ID)
	}
}

func TestUpdateState(t *testing.T) {
	db := openTestDB(t)

	db.SaveClient(&ClientRecord{ID: "client-1", Name: "alpha", BackendKind: "baremetal", FirmwarePath: "/a.elf", State: "offline"})

	if err := db.UpdateState("client-1", "running"); err != nil {
		t.Fatal(err)
	}

	got, _ := db.GetClient("client-1")
	if got.State != "running" {
		t.Errorf("State = %q, want running", got.State)
	}
}

func TestUpdateState_NotFound(t *testing.T) {
	db := openTestDB(t)

	if err := db.UpdateState("nonexistent", "running"); err == nil {
		t.Fatal("expected error for nonexistent client")
	}
}

func TestDeleteClient(t *testing.T) {
	db := openTestDB(t)

	db.SaveClient(&ClientRecord{ID: "client-1", Name: "alpha", BackendKind: "baremetal", FirmwarePath: "/a.elf"})

	if err := db.DeleteClient("client-1"); err != nil {
		t.Fatal(err)
	}
	got, _ := db.GetClient("client-1")
	if got != nil {
		t.Errorf("expected nil after delete, got %+v", got)
	}
}

func TestSaveClient_Upsert(t *testing.T) {
	db := openTestDB(t)

	db.SaveClient(&ClientRecord{ID: "client-1", Name: "alpha", BackendKind: "baremetal", FirmwarePath: "/a.elf", State: "offline"})
	db.SaveClient(&ClientRecord{ID: "client-1", Name: "alpha", BackendKind: "baremetal", FirmwarePath: "/a.elf", State: "running"})

	got, _ := db.GetClient("client-1")
	if got.State != "running" {
		t.Errorf("State after upsert = %q, want running", got.State)
	}
}
