package pcap

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/csvguard/pkg/config"
	guardio "github.com/hed1ad/csvguard/pkg/io"
	"github.com/hed1ad/csvguard/pkg/io/csv"
	"github.com/hed1ad/csvguard/pkg/table"
)

var (
	srcMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	dstMAC = net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb}
	t0     = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return buf.Bytes()
}

func ipv4(proto layers.IPProtocol, ttl uint8) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      ttl,
		Protocol: proto,
		SrcIP:    net.IP{10, 0, 0, 1},
		DstIP:    net.IP{10, 0, 0, 2},
	}
}

func ethernet() *layers.Ethernet {
	return &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
}

func tcpPacket(t *testing.T) []byte {
	ip := ipv4(layers.IPProtocolTCP, 64)
	tcp := &layers.TCP{SrcPort: 51000, DstPort: 443, SYN: true, ACK: true, Window: 1024}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return serialize(t, ethernet(), ip, tcp, gopacket.Payload(bytes.Repeat([]byte{'x'}, 100)))
}

func udpPacket(t *testing.T) []byte {
	ip := ipv4(layers.IPProtocolUDP, 128)
	udp := &layers.UDP{SrcPort: 40000, DstPort: 40001}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	return serialize(t, ethernet(), ip, udp, gopacket.Payload(bytes.Repeat([]byte{'y'}, 20)))
}

func icmpPacket(t *testing.T) []byte {
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0), Id: 1, Seq: 1}
	return serialize(t, ethernet(), ipv4(layers.IPProtocolICMPv4, 32), icmp, gopacket.Payload(bytes.Repeat([]byte{'z'}, 32)))
}

func capture(t *testing.T) []byte {
	t.Helper()
	packets := [][]byte{tcpPacket(t), udpPacket(t), tcpPacket(t)}
	times := []time.Time{t0, t0.Add(1500 * time.Millisecond), t0.Add(2 * time.Second)}

	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for i, p := range packets {
		ci := gopacket.CaptureInfo{Timestamp: times[i], CaptureLength: len(p), Length: len(p)}
		require.NoError(t, w.WritePacket(ci, p))
	}
	return buf.Bytes()
}

func TestReaderRead(t *testing.T) {
	r, err := NewReader(bytes.NewReader(capture(t)))
	require.NoError(t, err)
	defer r.Close()

	rows, err := r.Read()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	tests := []struct {
		name string
		row  []float64
		want []float64
	}{
		{
			name: "tcp",
			row:  rows[0],
			want: []float64{154, 0, 6, 51000, 443, 3, 64, 100},
		},
		{
			name: "udp",
			row:  rows[1],
			want: []float64{62, 1.5, 17, 40000, 40001, 0, 128, 20},
		},
		{
			name: "tcp after udp",
			row:  rows[2],
			want: []float64{154, 0.5, 6, 51000, 443, 3, 64, 100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Len(t, tt.row, len(tt.want))
			for i := range tt.want {
				assert.InDelta(t, tt.want[i], tt.row[i], 1e-9, featureNames[i])
			}
		})
	}
}

func TestExtractICMP(t *testing.T) {
	p := gopacket.NewPacket(icmpPacket(t), layers.LayerTypeEthernet, gopacket.Default)
	f := NewFeatureExtractor().Extract(p)

	assert.Equal(t, 1.0, f[FeatureProtocol])
	assert.Equal(t, 32.0, f[FeatureTTL])
	assert.Zero(t, f[FeatureSrcPort])
	assert.Zero(t, f[FeatureTCPFlags])
}

func TestNewReaderErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "not a capture", input: strings.Repeat("junk", 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestReaderPcapng(t *testing.T) {
	var buf bytes.Buffer
	w, err := pcapgo.NewNgWriter(&buf, layers.LinkTypeEthernet)
	require.NoError(t, err)
	p := udpPacket(t)
	require.NoError(t, w.WritePacket(gopacket.CaptureInfo{Timestamp: t0, CaptureLength: len(p), Length: len(p)}, p))
	require.NoError(t, w.Flush())

	r, err := NewReader(&buf)
	require.NoError(t, err)

	rows, err := r.Read()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 17.0, rows[0][FeatureProtocol])
}

func TestNewFileReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traffic.pcap")
	require.NoError(t, os.WriteFile(path, capture(t), 0o600))

	r, err := NewFileReader(path)
	require.NoError(t, err)
	rows, err := r.Read()
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.NoError(t, r.Close())

	_, err = NewFileReader(filepath.Join(t.TempDir(), "missing.pcap"))
	assert.Error(t, err)
}

func TestCaptureToTable(t *testing.T) {
	r, err := NewReader(bytes.NewReader(capture(t)))
	require.NoError(t, err)

	var out bytes.Buffer
	n, err := guardio.WriteFeatureCSV(&out, r)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	tb, stats, err := csv.Parse(out.Bytes(), "traffic.csv", config.DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.SkippedRows)
	assert.Equal(t, r.FeatureNames(), tb.Names())
	assert.Equal(t, 3, tb.NumRows())
	for _, c := range tb.Columns {
		assert.Equal(t, table.KindNumeric, c.Kind, c.Name)
	}
}
