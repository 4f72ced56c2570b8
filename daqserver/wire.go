package daqserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/snksoft/crc"
)

/*
The wire protocol is line oriented.  Requests are a verb followed by
space-separated arguments, terminated by a newline.  The final argument may
be a JSON document (it contains no newlines).  Replies are a single line:

	OK <json>
	ERR <message>

Structured payloads (poll data, module reads, discovery properties) ride in
the JSON document of an OK reply.  Vector payloads are base64 with a
CRC16/XMODEM of the raw bytes, so a corrupted transfer is rejected at the
receiver rather than silently written to the device.
*/

// Request verbs understood by the data server.
const (
	VerbVersion    = "VERSION"
	VerbAPILevel   = "APILEVEL"
	VerbDevList    = "DEVLIST"
	VerbDevProps   = "DEVPROPS"
	VerbConnDev    = "CONNDEV"
	VerbGetDouble  = "GETD"
	VerbGetInt     = "GETI"
	VerbGetString  = "GETS"
	VerbSet        = "SET"
	VerbSetVector  = "SETVEC"
	VerbSubscribe  = "SUBS"
	VerbUnsub      = "UNSUBS"
	VerbPoll       = "POLL"
	VerbSync       = "SYNC"
	VerbListNodes  = "LISTNODES"
	VerbModCreate  = "MODCREATE"
	VerbModSet     = "MODSET"
	VerbModGetD    = "MODGETD"
	VerbModGetI    = "MODGETI"
	VerbModGetS    = "MODGETS"
	VerbModSubs    = "MODSUBS"
	VerbModUnsub   = "MODUNSUBS"
	VerbModExec    = "MODEXEC"
	VerbModProg    = "MODPROGRESS"
	VerbModFin     = "MODFINISHED"
	VerbModRecords = "MODRECORDS"
	VerbModRead    = "MODREAD"
	VerbModFinish  = "MODFINISH"
)

// ServerError is an ERR reply from the data server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "data server: " + e.Message
}

// ErrMalformedReply is returned when a reply is neither OK nor ERR.
var ErrMalformedReply = errors.New("malformed reply from data server")

// ParseReply splits a reply line into its JSON payload, or the server's
// error.
func ParseReply(line string) (json.RawMessage, error) {
	line = strings.TrimRight(line, "\r\n")
	switch {
	case line == "OK":
		return nil, nil
	case strings.HasPrefix(line, "OK "):
		return json.RawMessage(line[3:]), nil
	case strings.HasPrefix(line, "ERR "):
		return nil, &ServerError{Message: line[4:]}
	case line == "ERR":
		return nil, &ServerError{Message: "unspecified error"}
	default:
		return nil, ErrMalformedReply
	}
}

var crcTable = crc.NewTable(crc.XMODEM)

// EncodeVector frames raw bytes for a SETVEC argument: crc16 in hex,
// a space, then the base64 payload.
func EncodeVector(data []byte) string {
	sum := crcTable.CalculateCRC(data)
	return fmt.Sprintf("%04x %s", sum, base64.StdEncoding.EncodeToString(data))
}

// DecodeVector unframes a SETVEC argument, verifying the checksum.
func DecodeVector(framed string) ([]byte, error) {
	parts := strings.SplitN(framed, " ", 2)
	if len(parts) != 2 {
		return nil, errors.New("vector frame missing checksum or payload")
	}
	var sum uint64
	_, err := fmt.Sscanf(parts[0], "%04x", &sum)
	if err != nil {
		return nil, fmt.Errorf("bad vector checksum field: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("bad vector payload: %w", err)
	}
	if got := crcTable.CalculateCRC(data); got != sum {
		return nil, fmt.Errorf("vector checksum mismatch: frame %04x, computed %04x", sum, got)
	}
	return data, nil
}
