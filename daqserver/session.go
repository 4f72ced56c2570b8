/*Package daqserver is a client for the lock-in data server's node tree.

A Session speaks the line protocol in wire.go over a pooled TCP connection.
Device configuration is written as (path, value) pairs, streamed data is
retrieved with Subscribe and Poll, and server-side processing modules are
driven through the generic verbs (see package module).

Most usages boil down to:
 1. Connect to the data server and check versions.
 2. Apply a Settings batch for the experiment, then Sync so the settings
    are guaranteed visible before any module runs.
 3. Subscribe to sample paths and Poll, or run a module.
*/
package daqserver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/benchtop-labs/lockin/comm"
	"github.com/benchtop-labs/lockin/nodetree"
	"github.com/benchtop-labs/lockin/sample"
)

const (
	// SupportedRelease is the data server release this client tracks.
	// VersionCheck fails when the server reports a different major.minor.
	SupportedRelease = "24.04"

	// DefaultPort is the data server's listening port.
	DefaultPort = 8004

	defaultTimeout = 5 * time.Second
)

// Session is a connection to a data server.
type Session struct {
	pool     *comm.Pool
	apiLevel int
	timeout  time.Duration
}

// Connect dials the data server at addr (host:port) and negotiates the
// given API level.  The underlying dial retries with backoff while the
// server is coming up.
func Connect(addr string, apiLevel int) (*Session, error) {
	maker := comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	pool := comm.NewPool(1, time.Hour, maker)
	s := &Session{pool: pool, apiLevel: apiLevel, timeout: defaultTimeout}
	_, err := s.Do(VerbAPILevel, strconv.Itoa(apiLevel))
	if err != nil {
		return nil, fmt.Errorf("API level %d not accepted: %w", apiLevel, err)
	}
	return s, nil
}

// ConnectHostPort is Connect with separate host and port arguments, the
// shape the command line programs use.
func ConnectHostPort(host string, port, apiLevel int) (*Session, error) {
	return Connect(fmt.Sprintf("%s:%d", host, port), apiLevel)
}

// APILevel returns the negotiated API level.
func (s *Session) APILevel() int {
	return s.apiLevel
}

// Do sends one request and decodes the reply, using the session's default
// timeout.
func (s *Session) Do(verb string, args ...string) (json.RawMessage, error) {
	return s.DoTimeout(s.timeout, verb, args...)
}

// DoTimeout is Do with an explicit deadline for the exchange.  Blocking
// verbs (POLL) need deadlines longer than their blocking time.
func (s *Session) DoTimeout(timeout time.Duration, verb string, args ...string) (json.RawMessage, error) {
	conn, err := s.pool.Get()
	if err != nil {
		return nil, err
	}
	defer func() { s.pool.ReturnWithError(conn, err) }()
	var wrap io.ReadWriter
	wrap, err = comm.NewTimeout(conn, timeout)
	if err != nil {
		return nil, err
	}
	req := verb
	if len(args) > 0 {
		req = verb + " " + strings.Join(args, " ")
	}
	_, err = wrap.Write(append([]byte(req), '\n'))
	if err != nil {
		return nil, err
	}
	// replies are a single line; the next line the server produces belongs
	// to the next request, so a throwaway reader is safe here
	var line string
	line, err = bufio.NewReader(wrap).ReadString('\n')
	if err != nil {
		return nil, err
	}
	var payload json.RawMessage
	payload, err = ParseReply(line)
	return payload, err
}

// Version returns the data server's release string, e.g. "24.04.58123".
func (s *Session) Version() (string, error) {
	raw, err := s.Do(VerbVersion)
	if err != nil {
		return "", err
	}
	var v struct {
		Version string `json:"version"`
	}
	err = json.Unmarshal(raw, &v)
	return v.Version, err
}

// VersionCheck errors when the server's major.minor release differs from
// SupportedRelease.  Mixed client/server releases are the leading cause of
// confusing node-tree behavior, so this is checked up front, not on demand.
func (s *Session) VersionCheck() error {
	version, err := s.Version()
	if err != nil {
		return err
	}
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return fmt.Errorf("unparseable server version %q", version)
	}
	release := parts[0] + "." + parts[1]
	if release != SupportedRelease {
		return fmt.Errorf("data server release %s does not match supported release %s", release, SupportedRelease)
	}
	return nil
}

// GetDouble reads a floating point node value.
func (s *Session) GetDouble(path string) (float64, error) {
	return valueReply(s.Do(VerbGetDouble, nodetree.Normalize(path)))
}

// GetInt reads an integer node value.
func (s *Session) GetInt(path string) (int64, error) {
	raw, err := s.Do(VerbGetInt, nodetree.Normalize(path))
	if err != nil {
		return 0, err
	}
	var v struct {
		Value int64 `json:"value"`
	}
	err = json.Unmarshal(raw, &v)
	return v.Value, err
}

// GetString reads a string node value.
func (s *Session) GetString(path string) (string, error) {
	raw, err := s.Do(VerbGetString, nodetree.Normalize(path))
	if err != nil {
		return "", err
	}
	var v struct {
		Value string `json:"value"`
	}
	err = json.Unmarshal(raw, &v)
	return v.Value, err
}

// SetValue writes one node value of any JSON-encodable type.
func (s *Session) SetValue(path string, value interface{}) error {
	enc, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.Do(VerbSet, nodetree.Normalize(path), string(enc))
	return err
}

// SetDouble writes a floating point node value.
func (s *Session) SetDouble(path string, value float64) error {
	return s.SetValue(path, value)
}

// SetInt writes an integer node value.
func (s *Session) SetInt(path string, value int64) error {
	return s.SetValue(path, value)
}

// SetString writes a string node value.
func (s *Session) SetString(path, value string) error {
	return s.SetValue(path, value)
}

// Set applies a batch of settings in order, stopping at the first error.
func (s *Session) Set(batch nodetree.Settings) error {
	for _, setting := range batch {
		err := s.SetValue(setting.Path, setting.Value)
		if err != nil {
			return fmt.Errorf("setting %s: %w", setting.Path, err)
		}
	}
	return nil
}

// SetVector writes a binary payload (waveform data, command tables) to a
// node.  The payload is CRC-framed; a server that computes a different
// checksum rejects the write.
func (s *Session) SetVector(path string, data []byte) error {
	_, err := s.Do(VerbSetVector, nodetree.Normalize(path), EncodeVector(data))
	return err
}

// Subscribe registers a streaming node path for Poll.
func (s *Session) Subscribe(path string) error {
	_, err := s.Do(VerbSubscribe, nodetree.Normalize(path))
	return err
}

// Unsubscribe removes subscriptions matching pattern; "*" removes all.
func (s *Session) Unsubscribe(pattern string) error {
	_, err := s.Do(VerbUnsub, nodetree.Normalize(pattern))
	return err
}

// Sync blocks until all previous settings have taken effect on the device,
// and clears the server's streaming buffers.  Module execution without a
// preceding Sync races the configuration it depends on.
func (s *Session) Sync() error {
	_, err := s.Do(VerbSync)
	return err
}

// Poll blocks for the given duration and returns all data accumulated on
// subscribed paths, including data buffered since the previous Poll or
// Subscribe call.  An empty map means no subscribed path produced data.
func (s *Session) Poll(duration time.Duration) (map[string]*sample.Demod, error) {
	ms := strconv.FormatInt(duration.Milliseconds(), 10)
	raw, err := s.DoTimeout(s.timeout+duration, VerbPoll, ms)
	if err != nil {
		return nil, err
	}
	out := map[string]*sample.Demod{}
	if len(raw) == 0 {
		return out, nil
	}
	err = json.Unmarshal(raw, &out)
	return out, err
}

// ListNodes lists node paths below path, subject to the nodetree.List*
// flags.
func (s *Session) ListNodes(path string, flags int) ([]string, error) {
	raw, err := s.Do(VerbListNodes, nodetree.Normalize(path), strconv.Itoa(flags))
	if err != nil {
		return nil, err
	}
	var nodes []string
	err = json.Unmarshal(raw, &nodes)
	return nodes, err
}

// Close releases the session's connections.
func (s *Session) Close() error {
	// the pool reclaims idle connections on its own; there is nothing to
	// hand back beyond what callers already returned
	return nil
}

func valueReply(raw json.RawMessage, err error) (float64, error) {
	if err != nil {
		return 0, err
	}
	var v struct {
		Value float64 `json:"value"`
	}
	err = json.Unmarshal(raw, &v)
	return v.Value, err
}

// disableBranches are the output-capable branches zeroed by
// DisableEverything.
var disableBranches = []string{
	"sigouts/*/on",
	"sigouts/*/enables/*",
	"demods/*/enable",
	"scopes/*/enable",
	"awgs/*/enable",
	"aouts/*/offset",
	"pids/*/enable",
}

// DisableEverything writes a base configuration to the device: all outputs,
// demodulators, scopes, AWGs and PIDs off.  Branches the device does not
// have are skipped.
func (s *Session) DisableEverything(device string) error {
	for _, branch := range disableBranches {
		pattern := "/" + strings.ToLower(device) + "/" + branch
		nodes, err := s.ListNodes(pattern, nodetree.ListRecursive|nodetree.ListAbsolute|nodetree.ListLeavesOnly)
		if err != nil {
			return err
		}
		for _, node := range nodes {
			err = s.SetInt(node, 0)
			if err != nil {
				return fmt.Errorf("disabling %s: %w", node, err)
			}
		}
	}
	return s.Sync()
}
