// Package pcap reads packet captures and extracts per-packet numeric features,
// so network traffic can be scored like any other tabular upload.
package pcap

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	guardio "github.com/hed1ad/csvguard/pkg/io"
)

// Feature vector layout.
const (
	FeaturePacketSize = iota
	FeatureInterArrival
	FeatureProtocol
	FeatureSrcPort
	FeatureDstPort
	FeatureTCPFlags
	FeatureTTL
	FeaturePayloadSize

	numFeatures
)

var featureNames = [numFeatures]string{
	"packet_size",
	"inter_arrival_time",
	"protocol",
	"src_port",
	"dst_port",
	"tcp_flags",
	"ip_ttl",
	"payload_size",
}

// pcapng section header block type.
var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// packetDataSource is implemented by both pcapgo readers.
type packetDataSource interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// Reader reads packets from a pcap or pcapng stream.
type Reader struct {
	source    *gopacket.PacketSource
	closer    io.Closer
	extractor *FeatureExtractor
}

// NewFileReader opens a capture file.
func NewFileReader(filename string) (*Reader, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	r.closer = f
	return r, nil
}

// NewReader reads a capture from r. The format, classic pcap or pcapng, is
// detected from the leading magic number.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}

	var src packetDataSource
	if bytes.Equal(magic, ngMagic) {
		src, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		src, err = pcapgo.NewReader(br)
	}
	if err != nil {
		return nil, err
	}

	ps := gopacket.NewPacketSource(src, src.LinkType())
	ps.DecodeOptions = gopacket.DecodeOptions{Lazy: true}

	return &Reader{
		source:    ps,
		extractor: NewFeatureExtractor(),
	}, nil
}

// Read returns all packets as feature vectors.
func (r *Reader) Read() ([][]float64, error) {
	if r.source == nil {
		return nil, errors.New("reader not initialized")
	}

	var data [][]float64
	for {
		packet, err := r.source.NextPacket()
		if errors.Is(err, io.EOF) {
			return data, nil
		}
		if err != nil {
			return data, fmt.Errorf("packet %d: %w", len(data)+1, err)
		}
		data = append(data, r.extractor.Extract(packet))
	}
}

// FeatureNames returns the names of extracted features.
func (r *Reader) FeatureNames() []string {
	return r.extractor.FeatureNames()
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// FeatureExtractor extracts numerical features from network packets.
// Inter-arrival time depends on the previous packet, so an extractor must
// see packets in capture order.
type FeatureExtractor struct {
	lastTimestamp time.Time
}

// NewFeatureExtractor creates a new packet feature extractor.
func NewFeatureExtractor() *FeatureExtractor {
	return &FeatureExtractor{}
}

// Extract converts a packet to a feature vector laid out as FeatureNames.
func (e *FeatureExtractor) Extract(packet gopacket.Packet) []float64 {
	f := make([]float64, numFeatures)

	f[FeaturePacketSize] = float64(len(packet.Data()))
	if md := packet.Metadata(); md != nil {
		if md.Length > 0 {
			f[FeaturePacketSize] = float64(md.Length)
		}
		if !md.Timestamp.IsZero() {
			if !e.lastTimestamp.IsZero() {
				f[FeatureInterArrival] = md.Timestamp.Sub(e.lastTimestamp).Seconds()
			}
			e.lastTimestamp = md.Timestamp
		}
	}

	switch nl := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		f[FeatureTTL] = float64(nl.TTL)
	case *layers.IPv6:
		f[FeatureTTL] = float64(nl.HopLimit)
	}

	switch tl := packet.TransportLayer().(type) {
	case *layers.TCP:
		f[FeatureProtocol] = float64(layers.IPProtocolTCP)
		f[FeatureSrcPort] = float64(tl.SrcPort)
		f[FeatureDstPort] = float64(tl.DstPort)
		f[FeatureTCPFlags] = encodeTCPFlags(tl)
	case *layers.UDP:
		f[FeatureProtocol] = float64(layers.IPProtocolUDP)
		f[FeatureSrcPort] = float64(tl.SrcPort)
		f[FeatureDstPort] = float64(tl.DstPort)
	default:
		if packet.Layer(layers.LayerTypeICMPv4) != nil {
			f[FeatureProtocol] = float64(layers.IPProtocolICMPv4)
		} else if packet.Layer(layers.LayerTypeICMPv6) != nil {
			f[FeatureProtocol] = float64(layers.IPProtocolICMPv6)
		}
	}

	if app := packet.ApplicationLayer(); app != nil {
		f[FeaturePayloadSize] = float64(len(app.Payload()))
	}

	return f
}

// FeatureNames returns the names of extracted features.
func (e *FeatureExtractor) FeatureNames() []string {
	return append([]string(nil), featureNames[:]...)
}

// encodeTCPFlags packs TCP flags into a bit mask.
func encodeTCPFlags(tcp *layers.TCP) float64 {
	var flags int
	for i, set := range []bool{tcp.SYN, tcp.ACK, tcp.FIN, tcp.RST, tcp.PSH, tcp.URG} {
		if set {
			flags |= 1 << i
		}
	}
	return float64(flags)
}

var _ guardio.Source = (*Reader)(nil)
