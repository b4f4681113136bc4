package keymaterial

import "testing"

func TestNewDeviceManagerRegistersPrimaryDevice(t *testing.T) {
	identity, err := Generate()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	dm, err := NewDeviceManager(identity)
	if err != nil {
		t.Fatalf("new device manager: %v", err)
	}
	devices := dm.ListDevices()
	if len(devices) != 1 || devices[0].Name != "primary" {
		t.Fatalf("expected one primary device, got %+v", devices)
	}
}

func TestAddDeviceDerivesDistinctKeys(t *testing.T) {
	identity, _ := Generate()
	dm, _ := NewDeviceManager(identity)

	d1, err := dm.AddDevice("laptop")
	if err != nil {
		t.Fatalf("add device: %v", err)
	}
	d2, err := dm.AddDevice("phone")
	if err != nil {
		t.Fatalf("add device: %v", err)
	}
	if string(d1.PublicKey) == string(d2.PublicKey) {
		t.Fatal("expected distinct device public keys")
	}
	if len(dm.ListDevices()) != 3 {
		t.Fatalf("expected 3 devices total, got %d", len(dm.ListDevices()))
	}
}

func TestDeviceManagerSnapshotRoundtripsThroughFreshManager(t *testing.T) {
	identity, _ := Generate()
	dm, _ := NewDeviceManager(identity)

	laptop, err := dm.AddDevice("laptop")
	if err != nil {
		t.Fatalf("add device: %v", err)
	}
	phone, err := dm.AddDevice("phone")
	if err != nil {
		t.Fatalf("add device: %v", err)
	}
	if _, err := dm.RevokeDevice(phone.ID); err != nil {
		t.Fatalf("revoke device: %v", err)
	}
	snap := dm.Snapshot()

	restored, err := NewDeviceManager(identity)
	if err != nil {
		t.Fatalf("new device manager: %v", err)
	}
	if err := restored.LoadRegistrySnapshot(snap); err != nil {
		t.Fatalf("load registry snapshot: %v", err)
	}

	devices := restored.ListDevices()
	if len(devices) != 3 {
		t.Fatalf("expected 3 restored devices, got %d", len(devices))
	}
	var sawLaptop, sawRevokedPhone bool
	for _, d := range devices {
		switch d.ID {
		case laptop.ID:
			sawLaptop = true
			if string(d.PublicKey) != string(laptop.PublicKey) {
				t.Fatal("restored laptop public key mismatch")
			}
		case phone.ID:
			sawRevokedPhone = d.IsRevoked
		}
	}
	if !sawLaptop || !sawRevokedPhone {
		t.Fatalf("expected restored registry to include laptop and revoked phone, got %+v", devices)
	}

	nextDevice, err := restored.AddDevice("tablet")
	if err != nil {
		t.Fatalf("add device after restore: %v", err)
	}
	if string(nextDevice.PublicKey) == string(laptop.PublicKey) || string(nextDevice.PublicKey) == string(phone.PublicKey) {
		t.Fatal("device added after restore must not collide with a previously derived key")
	}
}

func TestRevokeDeviceMarksRevoked(t *testing.T) {
	identity, _ := Generate()
	dm, _ := NewDeviceManager(identity)
	device, _ := dm.AddDevice("laptop")

	rev, err := dm.RevokeDevice(device.ID)
	if err != nil {
		t.Fatalf("revoke device: %v", err)
	}
	if rev.DeviceID != device.ID {
		t.Fatalf("expected revocation for %s, got %s", device.ID, rev.DeviceID)
	}

	found := false
	for _, d := range dm.ListDevices() {
		if d.ID == device.ID {
			found = true
			if !d.IsRevoked {
				t.Fatal("expected device to be marked revoked")
			}
		}
	}
	if !found {
		t.Fatal("revoked device missing from list")
	}
}

func TestCrossIdentityDeviceVerification(t *testing.T) {
	alice, _ := Generate()
	bob, _ := Generate()
	aliceDM, _ := NewDeviceManager(alice)
	bobDM, _ := NewDeviceManager(bob)

	aliceIdentityID, err := BuildIdentityID(alice.PublicKey())
	if err != nil {
		t.Fatalf("build identity id: %v", err)
	}
	bobDM.RegisterPeerSigningKey(aliceIdentityID, alice.PublicKey())

	device, sig, err := aliceDM.ActiveDeviceAuth([]byte("hello bob"))
	if err != nil {
		t.Fatalf("active device auth: %v", err)
	}

	if err := bobDM.VerifyInboundDevice(aliceIdentityID, device, []byte("hello bob"), sig); err != nil {
		t.Fatalf("verify inbound device: %v", err)
	}
}

func TestVerifyInboundDeviceUnknownContactFails(t *testing.T) {
	alice, _ := Generate()
	bob, _ := Generate()
	aliceDM, _ := NewDeviceManager(alice)
	bobDM, _ := NewDeviceManager(bob)

	device, sig, _ := aliceDM.ActiveDeviceAuth([]byte("hi"))
	if err := bobDM.VerifyInboundDevice("unregistered-contact", device, []byte("hi"), sig); err != ErrUnverifiedContact {
		t.Fatalf("expected ErrUnverifiedContact, got %v", err)
	}
}

func TestApplyDeviceRevocationThenVerifyFails(t *testing.T) {
	alice, _ := Generate()
	bob, _ := Generate()
	aliceDM, _ := NewDeviceManager(alice)
	bobDM, _ := NewDeviceManager(bob)

	aliceIdentityID, _ := BuildIdentityID(alice.PublicKey())
	bobDM.RegisterPeerSigningKey(aliceIdentityID, alice.PublicKey())

	device, err := aliceDM.AddDevice("tablet")
	if err != nil {
		t.Fatalf("add device: %v", err)
	}
	rev, err := aliceDM.RevokeDevice(device.ID)
	if err != nil {
		t.Fatalf("revoke device: %v", err)
	}
	if err := bobDM.ApplyDeviceRevocation(aliceIdentityID, rev); err != nil {
		t.Fatalf("apply device revocation: %v", err)
	}

	sig := []byte("irrelevant signature")
	if err := bobDM.VerifyInboundDevice(aliceIdentityID, device, []byte("payload"), sig); err != ErrDeviceRevoked {
		t.Fatalf("expected ErrDeviceRevoked, got %v", err)
	}
}
