package tap

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/bpf"

	"firestige.xyz/fwip/internal/config"
	"firestige.xyz/fwip/internal/core"
)

func readAll(t *testing.T, buf *bytes.Buffer) ([][]byte, []int) {
	t.Helper()
	r, err := pcapgo.NewReader(buf)
	require.NoError(t, err)
	assert.Equal(t, LinkTypeIPOverIEEE1394, r.LinkType())

	var (
		records [][]byte
		lengths []int
	)
	for {
		data, ci, err := r.ReadPacketData()
		if err != nil {
			break
		}
		records = append(records, data)
		lengths = append(lengths, ci.Length)
	}
	return records, lengths
}

func TestCapturePseudoHeader(t *testing.T) {
	var buf bytes.Buffer
	w, err := New(&buf, 0, nil)
	require.NoError(t, err)

	w.Capture(0xA, 0xB, core.EtherTypeIPv4, []byte{0x45, 0x00})
	require.NoError(t, w.Close())

	records, _ := readAll(t, &buf)
	require.Len(t, records, 1)
	rec := records[0]
	require.Len(t, rec, HeaderLen+2)
	assert.Equal(t, uint64(0xB), binary.BigEndian.Uint64(rec[0:8]))
	assert.Equal(t, uint64(0xA), binary.BigEndian.Uint64(rec[8:16]))
	assert.Equal(t, core.EtherTypeIPv4, binary.BigEndian.Uint16(rec[16:18]))
	assert.Equal(t, []byte{0x45, 0x00}, rec[HeaderLen:])
}

func TestCaptureFilterAndSnaplen(t *testing.T) {
	var buf bytes.Buffer
	w, err := New(&buf, 20, []uint16{core.EtherTypeARP, core.EtherTypeIPv6})
	require.NoError(t, err)

	w.Capture(1, 2, core.EtherTypeIPv4, []byte("dropped"))
	w.Capture(1, 2, core.EtherTypeARP, []byte("arp-payload"))
	w.Capture(1, 2, core.EtherTypeIPv6, []byte("v6"))

	records, lengths := readAll(t, &buf)
	require.Len(t, records, 2)
	assert.Len(t, records[0], 20, "truncated to snaplen")
	assert.Equal(t, HeaderLen+len("arp-payload"), lengths[0])
	assert.Equal(t, []byte("v6"), records[1][HeaderLen:])
	assert.Equal(t, 0, w.Dropped())
}

func TestCompileEtherTypeFilter(t *testing.T) {
	prog, err := CompileEtherTypeFilter([]uint16{0x0800, 0x0806, 0x86DD}, 100)
	require.NoError(t, err)
	vm, err := bpf.NewVM(prog)
	require.NoError(t, err)

	frame := make([]byte, HeaderLen)
	for et, want := range map[uint16]int{0x0800: 100, 0x0806: 100, 0x86DD: 100, 0x8861: 0} {
		binary.BigEndian.PutUint16(frame[16:], et)
		n, err := vm.Run(frame)
		require.NoError(t, err)
		assert.Equal(t, want, n, "ethertype %#04x", et)
	}

	_, err = CompileEtherTypeFilter(nil, 100)
	assert.Error(t, err)
	_, err = CompileEtherTypeFilter(make([]uint16, 256), 100)
	assert.Error(t, err)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fw.pcap")
	w, err := Open(config.TapConfig{Enabled: true, Path: path, Snaplen: 128})
	require.NoError(t, err)
	w.Capture(1, 2, core.EtherTypeIPv4, []byte("x"))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	records, _ := readAll(t, bytes.NewBuffer(data))
	assert.Len(t, records, 1)

	_, err = Open(config.TapConfig{Path: filepath.Join(t.TempDir(), "missing", "fw.pcap")})
	assert.Error(t, err)
}
