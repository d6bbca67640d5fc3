package endpoint

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mitchellh/go-homedir"

	"github.com/lumen-wallet/authwallet-go/internal/autherr"
)

// Well-known CometBFT RPC and Cosmos REST ports.
const (
	RPCPort  = "26657"
	RESTPort = "1317"
)

var peerFieldSep = regexp.MustCompile(`[\s,]+`)

// Peer is one line of a peers file.
type Peer struct {
	RPC  string
	REST string
	GRPC string
}

// ParsePeerLine parses "rpc [rest] [grpc]". Fields may be separated by
// whitespace or commas and '#' starts a comment. ok is false for blank lines.
func ParsePeerLine(line string) (peer Peer, ok bool) {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return Peer{}, false
	}

	var parts []string
	for _, p := range peerFieldSep.Split(line, -1) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return Peer{}, false
	}

	peer.RPC = parts[0]
	if len(parts) > 1 {
		peer.REST = parts[1]
	}
	if len(parts) > 2 {
		peer.GRPC = parts[2]
	}
	return peer, true
}

// ParsePeers reads every peer line from r.
func ParsePeers(r io.Reader) ([]Peer, error) {
	var peers []Peer
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if p, ok := ParsePeerLine(sc.Text()); ok {
			peers = append(peers, p)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read peers: %w", err)
	}
	return peers, nil
}

// LoadPeersFile parses the peers file at path. A leading ~ is expanded.
func LoadPeersFile(path string) ([]Peer, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", path, err)
	}

	f, err := os.Open(expanded)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParsePeers(f)
}

// RESTBase returns the peer's REST endpoint. Without an explicit REST
// column it is derived from the RPC endpoint by swapping port 26657 for
// 1317; any other RPC endpoint is used as-is.
func (p Peer) RESTBase() string {
	if p.REST != "" {
		return ensureHTTP(p.REST)
	}
	if p.RPC == "" {
		return ""
	}

	rpc := ensureHTTP(p.RPC)
	u, err := url.Parse(rpc)
	if err != nil || u.Host == "" {
		return rpc
	}
	if u.Port() == RPCPort {
		u.Host = net.JoinHostPort(u.Hostname(), RESTPort)
	}
	return strings.TrimRight(u.String(), "/")
}

// DefaultPeersFileCandidates lists where a peers file is looked for when
// none is configured: ./resources, then next to and above the executable.
func DefaultPeersFileCandidates() []string {
	candidates := []string{filepath.Join("resources", "peers.txt")}
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(dir, "resources", "peers.txt"),
			filepath.Join(dir, "..", "resources", "peers.txt"),
		)
	}
	return candidates
}

// FindPeersFile returns explicit when set, otherwise the first existing
// default candidate.
func FindPeersFile(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	for _, c := range DefaultPeersFileCandidates() {
		if st, err := os.Stat(c); err == nil && !st.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: peers file not found", autherr.ErrResolutionUnavailable)
}

// PeersSource derives the chain REST base from the first peer of a peers file.
// The file is re-read on every call so edits take effect without a restart.
type PeersSource struct {
	// File is the peers file path. Empty means search the default locations.
	File string
}

// RESTBase returns the REST base of the first peer. Failures wrap
// [autherr.ErrResolutionUnavailable].
func (s PeersSource) RESTBase() (string, error) {
	path, err := FindPeersFile(s.File)
	if err != nil {
		return "", err
	}

	peers, err := LoadPeersFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: peers file %s not found", autherr.ErrResolutionUnavailable, path)
		}
		return "", fmt.Errorf("%w: %v", autherr.ErrResolutionUnavailable, err)
	}
	if len(peers) == 0 {
		return "", fmt.Errorf("%w: no peers in %s", autherr.ErrResolutionUnavailable, path)
	}

	base := peers[0].RESTBase()
	if base == "" {
		return "", fmt.Errorf("%w: first peer in %s has no endpoint", autherr.ErrResolutionUnavailable, path)
	}
	return base, nil
}

// StaticBase is a fixed REST base, used when one is configured explicitly.
type StaticBase string

// RESTBase returns the configured base.
func (s StaticBase) RESTBase() (string, error) {
	base := strings.TrimRight(strings.TrimSpace(string(s)), "/")
	if base == "" {
		return "", fmt.Errorf("%w: empty chain REST base", autherr.ErrResolutionUnavailable)
	}
	return ensureHTTP(base), nil
}

func ensureHTTP(u string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(u), "/")
	if hasHTTPScheme(trimmed) {
		return trimmed
	}
	return "http://" + trimmed
}

func hasHTTPScheme(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
