package community

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rekindle-chat/rekindle/internal/overlay"
)

func startTestIPCServer(t *testing.T) (*IPCServer, string) {
	t.Helper()
	db := openTestDB(t)
	api := overlay.NewMock()
	srv := NewServer(api, db, nil)
	socketPath := filepath.Join(t.TempDir(), "community.sock")
	ipc := NewIPCServer(socketPath, srv, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ipc.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("unix", socketPath); err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	return ipc, socketPath
}

func sendIPCRequest(t *testing.T, socketPath string, req IpcRequest) IpcResponse {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial ipc socket: %v", err)
	}
	defer conn.Close()

	line, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		t.Fatalf("write request: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		t.Fatalf("no response from ipc server: %v", scanner.Err())
	}
	var resp IpcResponse
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestIPCHostListStatus(t *testing.T) {
	_, socketPath := startTestIPCServer(t)

	hostParams, _ := json.Marshal(hostCommunityParams{
		CommunityID:         "c1",
		DHTRecordKey:        "record-c1",
		OwnerKeypairHex:     "11" + pad(62) + ":22" + pad(62),
		Name:                "Test",
		CreatorPseudonymKey: "creator",
		CreatorDisplayName:  "Creator",
	})
	resp := sendIPCRequest(t, socketPath, IpcRequest{Method: "HostCommunity", Params: hostParams})
	if resp.Type != "ok" {
		t.Fatalf("expected ok, got %+v", resp)
	}

	listResp := sendIPCRequest(t, socketPath, IpcRequest{Method: "ListHosted"})
	if listResp.Type != "hosted" || len(listResp.Hosted) != 1 {
		t.Fatalf("unexpected list response: %+v", listResp)
	}

	statusResp := sendIPCRequest(t, socketPath, IpcRequest{Method: "GetStatus"})
	if statusResp.Type != "status" || statusResp.Status == nil || statusResp.Status.CommunityCount != 1 {
		t.Fatalf("unexpected status response: %+v", statusResp)
	}
}

func TestIPCUnknownMethod(t *testing.T) {
	_, socketPath := startTestIPCServer(t)
	resp := sendIPCRequest(t, socketPath, IpcRequest{Method: "NotAMethod"})
	if resp.Type != "error" {
		t.Fatalf("expected error response, got %+v", resp)
	}
}

func TestIPCShutdownSignalsChannel(t *testing.T) {
	ipc, socketPath := startTestIPCServer(t)
	resp := sendIPCRequest(t, socketPath, IpcRequest{Method: "Shutdown"})
	if resp.Type != "ok" {
		t.Fatalf("expected ok, got %+v", resp)
	}
	select {
	case <-ipc.Shutdown():
	case <-time.After(2 * time.Second):
		t.Fatal("expected shutdown channel to be signaled")
	}
}

func TestIPCCommunityRpcWithoutHandlerErrors(t *testing.T) {
	_, socketPath := startTestIPCServer(t)
	params, _ := json.Marshal(communityRPCParams{CommunityID: "c1", SenderPseudonymKey: "s", RequestJSON: "{}"})
	resp := sendIPCRequest(t, socketPath, IpcRequest{Method: "CommunityRpc", Params: params})
	if resp.Type != "error" {
		t.Fatalf("expected error without an rpc handler configured, got %+v", resp)
	}
}
