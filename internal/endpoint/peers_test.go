package endpoint

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lumen-wallet/authwallet-go/internal/autherr"
)

func TestParsePeerLine(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		want   Peer
		wantOK bool
	}{
		{"blank", "   ", Peer{}, false},
		{"comment only", "# seed nodes", Peer{}, false},
		{"rpc only", "node1:26657", Peer{RPC: "node1:26657"}, true},
		{"whitespace separated", "http://a:26657  http://a:1317 a:9090", Peer{RPC: "http://a:26657", REST: "http://a:1317", GRPC: "a:9090"}, true},
		{"comma separated", "a:26657,b:1317,,c:9090", Peer{RPC: "a:26657", REST: "b:1317", GRPC: "c:9090"}, true},
		{"trailing comment", "a:26657 b:1317 # primary", Peer{RPC: "a:26657", REST: "b:1317"}, true},
		{"tabs", "\ta:26657\t", Peer{RPC: "a:26657"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParsePeerLine(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("ParsePeerLine() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ParsePeerLine() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParsePeers(t *testing.T) {
	input := "# header\n\nfirst:26657\r\nsecond:26657 second:1317\n"
	peers, err := ParsePeers(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParsePeers() error = %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("got %d peers, want 2", len(peers))
	}
	if peers[0].RPC != "first:26657" || peers[1].REST != "second:1317" {
		t.Errorf("peers = %+v", peers)
	}
}

func TestPeer_RESTBase(t *testing.T) {
	tests := []struct {
		name string
		peer Peer
		want string
	}{
		{"explicit rest", Peer{RPC: "a:26657", REST: "b:1317/"}, "http://b:1317"},
		{"explicit https rest", Peer{REST: "https://rest.example.com"}, "https://rest.example.com"},
		{"derived from rpc port", Peer{RPC: "node.example.com:26657"}, "http://node.example.com:1317"},
		{"derived keeps scheme", Peer{RPC: "https://node.example.com:26657/"}, "https://node.example.com:1317"},
		{"ipv6", Peer{RPC: "http://[::1]:26657"}, "http://[::1]:1317"},
		{"other port untouched", Peer{RPC: "node.example.com:443"}, "http://node.example.com:443"},
		{"no port", Peer{RPC: "https://rpc.example.com"}, "https://rpc.example.com"},
		{"empty", Peer{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.peer.RESTBase(); got != tt.want {
				t.Errorf("RESTBase() = %q, want %q", got, tt.want)
			}
		})
	}
}

func writePeersFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "peers.txt")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPeersSource_RESTBase(t *testing.T) {
	path := writePeersFile(t, "# comment\nrpc.lumen.network:26657\nother:26657 other:1317\n")

	got, err := PeersSource{File: path}.RESTBase()
	if err != nil {
		t.Fatalf("RESTBase() error = %v", err)
	}
	if got != "http://rpc.lumen.network:1317" {
		t.Errorf("RESTBase() = %s, want http://rpc.lumen.network:1317", got)
	}
}

func TestPeersSource_Unavailable(t *testing.T) {
	tests := []struct {
		name string
		file string
	}{
		{"missing file", filepath.Join(t.TempDir(), "nope.txt")},
		{"no peers", writePeersFile(t, "# only comments\n\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PeersSource{File: tt.file}.RESTBase()
			if !errors.Is(err, autherr.ErrResolutionUnavailable) {
				t.Errorf("expected ErrResolutionUnavailable, got %v", err)
			}
		})
	}
}

func TestStaticBase(t *testing.T) {
	got, err := StaticBase(" node:1317/ ").RESTBase()
	if err != nil {
		t.Fatal(err)
	}
	if got != "http://node:1317" {
		t.Errorf("RESTBase() = %s", got)
	}

	if _, err := StaticBase("").RESTBase(); !errors.Is(err, autherr.ErrResolutionUnavailable) {
		t.Errorf("expected ErrResolutionUnavailable, got %v", err)
	}
}
