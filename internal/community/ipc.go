package community

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/google/uuid"
)

// IpcRequest is one newline-delimited JSON-RPC-style request read from the
// IPC socket. Method discriminates which operation is being invoked;
// Params is left raw and decoded per-method, since Go has no native tagged
// union to mirror the Rust enum this protocol was modeled on.
type IpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type hostCommunityParams struct {
	CommunityID         string `json:"community_id"`
	DHTRecordKey        string `json:"dht_record_key"`
	OwnerKeypairHex     string `json:"owner_keypair_hex"`
	Name                string `json:"name"`
	CreatorPseudonymKey string `json:"creator_pseudonym_key"`
	CreatorDisplayName  string `json:"creator_display_name"`
}

type unhostCommunityParams struct {
	CommunityID string `json:"community_id"`
}

type communityRPCParams struct {
	CommunityID         string `json:"community_id"`
	SenderPseudonymKey string `json:"sender_pseudonym_key"`
	RequestJSON         string `json:"request_json"`
}

// IpcResponse is the tagged response type written back for every request.
// Exactly one of the non-Type fields is meaningful, selected by Type.
type IpcResponse struct {
	Type string `json:"type"`

	Hosted    []HostedInfo `json:"hosted,omitempty"`
	Status    *ipcStatus   `json:"status,omitempty"`
	Message   string       `json:"message,omitempty"`
	ResponseJSON string    `json:"response_json,omitempty"`
}

type ipcStatus struct {
	UptimeSeconds  int64 `json:"uptime_secs"`
	CommunityCount int   `json:"community_count"`
}

func okResponse() IpcResponse           { return IpcResponse{Type: "ok"} }
func errorResponse(message string) IpcResponse {
	return IpcResponse{Type: "error", Message: message}
}

// RPCHandler forwards a CommunityRpc IPC request to the application's RPC
// dispatch layer, returning the raw JSON response bytes. It is supplied by
// the binary wiring this server, since request handling depends on
// community-specific business logic outside this package's scope.
type RPCHandler func(ctx context.Context, communityID, senderPseudonymKey, requestJSON string) ([]byte, error)

// IPCServer listens on a Unix domain socket for local client requests
// (host/unhost/list/status/shutdown/rpc), matching the shape of the
// original daemon's control socket.
type IPCServer struct {
	socketPath string
	server     *Server
	rpc        RPCHandler
	log        *slog.Logger
	shutdown   chan struct{}
}

// NewIPCServer wires an IPCServer to the community Server it controls. rpc
// may be nil if CommunityRpc forwarding is not needed by the caller.
func NewIPCServer(socketPath string, server *Server, rpc RPCHandler, log *slog.Logger) *IPCServer {
	if log == nil {
		log = slog.Default()
	}
	return &IPCServer{
		socketPath: socketPath,
		server:     server,
		rpc:        rpc,
		log:        log,
		shutdown:   make(chan struct{}, 1),
	}
}

// Shutdown returns a channel that is signaled once when a client sends the
// Shutdown IPC request.
func (s *IPCServer) Shutdown() <-chan struct{} { return s.shutdown }

// Run binds the Unix socket and serves requests until ctx is cancelled.
// A stale socket file from an unclean previous exit is removed first.
func (s *IPCServer) Run(ctx context.Context) error {
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("community: bind ipc socket: %w", err)
	}
	defer listener.Close()

	s.log.InfoContext(ctx, "community: ipc listener started", "path", s.socketPath)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.WarnContext(ctx, "community: ipc accept error", "error", err)
				continue
			}
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *IPCServer) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	connID := uuid.NewString()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		var req IpcRequest
		var resp IpcResponse
		if err := json.Unmarshal(line, &req); err != nil {
			resp = errorResponse(fmt.Sprintf("invalid request: %v", err))
		} else {
			s.log.DebugContext(ctx, "community: ipc request", "conn_id", connID, "method", req.Method)
			resp = s.handle(ctx, req)
		}
		out, err := json.Marshal(resp)
		if err != nil {
			s.log.ErrorContext(ctx, "community: marshal ipc response failed", "error", err)
			return
		}
		out = append(out, '\n')
		if _, err := conn.Write(out); err != nil {
			s.log.WarnContext(ctx, "community: write ipc response failed", "error", err)
			return
		}
	}
}

func (s *IPCServer) handle(ctx context.Context, req IpcRequest) IpcResponse {
	switch req.Method {
	case "HostCommunity":
		var p hostCommunityParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return errorResponse(fmt.Sprintf("invalid params: %v", err))
		}
		err := s.server.HostCommunity(ctx, HostRequest{
			CommunityID:         p.CommunityID,
			DHTRecordKey:        p.DHTRecordKey,
			OwnerKeypairHex:     p.OwnerKeypairHex,
			Name:                p.Name,
			CreatorPseudonymKey: p.CreatorPseudonymKey,
			CreatorDisplayName:  p.CreatorDisplayName,
		})
		if err != nil {
			return errorResponse(err.Error())
		}
		return okResponse()

	case "UnhostCommunity":
		var p unhostCommunityParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return errorResponse(fmt.Sprintf("invalid params: %v", err))
		}
		s.server.UnhostCommunity(ctx, p.CommunityID)
		return okResponse()

	case "ListHosted":
		return IpcResponse{Type: "hosted", Hosted: s.server.ListHosted()}

	case "GetStatus":
		st := s.server.GetStatus()
		return IpcResponse{Type: "status", Status: &ipcStatus{
			UptimeSeconds:  st.UptimeSeconds,
			CommunityCount: st.CommunityCount,
		}}

	case "Shutdown":
		s.log.InfoContext(ctx, "community: shutdown requested via ipc")
		select {
		case s.shutdown <- struct{}{}:
		default:
		}
		return okResponse()

	case "CommunityRpc":
		var p communityRPCParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return errorResponse(fmt.Sprintf("invalid params: %v", err))
		}
		if s.rpc == nil {
			return errorResponse("community rpc forwarding not configured")
		}
		responseBytes, err := s.rpc(ctx, p.CommunityID, p.SenderPseudonymKey, p.RequestJSON)
		if err != nil {
			return errorResponse(err.Error())
		}
		return IpcResponse{Type: "rpc_result", ResponseJSON: string(responseBytes)}

	default:
		return errorResponse(fmt.Sprintf("unknown method: %s", req.Method))
	}
}
