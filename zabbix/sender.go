// Package zabbix implements the Zabbix sender ("trapper") wire protocol:
// a ZBXD\x01 header, a little-endian payload length and a JSON body,
// exchanged over a single TCP round trip.
package zabbix

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

const (
	protocolVersion = 0x01
	headerLen       = 13 // "ZBXD" + version + 8-byte length

	dialTimeout = 10 * time.Second
	ioTimeout   = 15 * time.Second
)

var headerMagic = []byte("ZBXD")

// Metric is one item of a sender batch.
type Metric struct {
	Host  string `json:"host"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Response is the server's reply to a sender batch.
type Response struct {
	Status string `json:"response"`
	Info   string `json:"info"`
}

// Success reports whether the server accepted the batch.
func (r *Response) Success() bool {
	return r.Status == "success"
}

func (r *Response) String() string {
	return fmt.Sprintf("%s (%s)", r.Status, r.Info)
}

// Sender pushes metric batches to one Zabbix server/proxy.
type Sender struct {
	addr string
}

// NewSender creates a sender for the given server host and trapper port.
func NewSender(server string, port int) *Sender {
	return &Sender{addr: net.JoinHostPort(server, strconv.Itoa(port))}
}

// Send transmits the batch and returns the parsed server response.
// An empty batch returns an error; callers are expected to gate on that.
func (s *Sender) Send(metrics []Metric) (*Response, error) {
	if len(metrics) == 0 {
		return nil, fmt.Errorf("zabbix: empty batch")
	}

	packet, err := encodePacket(metrics)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialTimeout("tcp", s.addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("zabbix: dial %s: %w", s.addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(ioTimeout)); err != nil {
		return nil, fmt.Errorf("zabbix: set deadline: %w", err)
	}

	if _, err := conn.Write(packet); err != nil {
		return nil, fmt.Errorf("zabbix: write: %w", err)
	}

	resp, err := readResponse(conn)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// encodePacket frames a sender-data request for the wire.
func encodePacket(metrics []Metric) ([]byte, error) {
	body, err := json.Marshal(struct {
		Request string   `json:"request"`
		Data    []Metric `json:"data"`
	}{
		Request: "sender data",
		Data:    metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("zabbix: marshal request: %w", err)
	}

	packet := make([]byte, 0, headerLen+len(body))
	packet = append(packet, headerMagic...)
	packet = append(packet, protocolVersion)
	packet = binary.LittleEndian.AppendUint64(packet, uint64(len(body)))
	packet = append(packet, body...)
	return packet, nil
}

// readResponse reads and parses one framed server reply.
func readResponse(r io.Reader) (*Response, error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("zabbix: read header: %w", err)
	}
	if string(header[:4]) != string(headerMagic) || header[4] != protocolVersion {
		return nil, fmt.Errorf("zabbix: malformed response header % x", header[:5])
	}

	size := binary.LittleEndian.Uint64(header[5:])
	if size > 1<<20 {
		return nil, fmt.Errorf("zabbix: response too large: %d bytes", size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("zabbix: read body: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("zabbix: parse response: %w", err)
	}
	return &resp, nil
}
