package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"

	"github.com/rekindle-chat/rekindle/internal/community"
	"github.com/rekindle-chat/rekindle/internal/platform/nodeconfig"
)

// sendIPCRequest dials the running server's control socket, writes a single
// newline-delimited request, and returns its decoded response.
func sendIPCRequest(method string, params any) (community.IpcResponse, error) {
	cfg, err := nodeconfig.LoadCommunityServer(flagConfigPath)
	if err != nil {
		return community.IpcResponse{}, err
	}
	if cfg.DataDir == "." {
		cfg.DataDir = flagDataDir
	}
	socketPath := cfg.SocketPath
	if !filepath.IsAbs(socketPath) {
		socketPath = filepath.Join(cfg.DataDir, socketPath)
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return community.IpcResponse{}, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	defer conn.Close()

	rawParams, err := json.Marshal(params)
	if err != nil {
		return community.IpcResponse{}, err
	}
	req := community.IpcRequest{Method: method, Params: rawParams}
	line, err := json.Marshal(req)
	if err != nil {
		return community.IpcResponse{}, err
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return community.IpcResponse{}, err
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return community.IpcResponse{}, err
		}
		return community.IpcResponse{}, fmt.Errorf("no response from server")
	}
	var resp community.IpcResponse
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return community.IpcResponse{}, err
	}
	if resp.Type == "error" {
		return resp, fmt.Errorf("server: %s", resp.Message)
	}
	return resp, nil
}
