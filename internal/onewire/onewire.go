// Package onewire reads temperature probes on a 1-Wire bus through the Linux
// w1-therm sysfs interface.
package onewire

import (
	"bytes"
	"path"
	"sort"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// DefaultDevicesDir is where the w1 bus master exposes slave devices.
const DefaultDevicesDir = "/sys/bus/w1/devices"

const (
	// DisconnectedC is returned when no reading is available.
	DisconnectedC = -127.0

	// PowerOnResetC is what a DS18B20 reports before its first conversion.
	PowerOnResetC = 85.0

	minC = -55.0
	maxC = 125.0
)

// ds18b20Family is the 1-Wire family code of the DS18B20.
const ds18b20Family = "28"

// Probe requests conversions and reports readings by bus index.
type Probe interface {
	// RequestTemperatures runs a conversion and blocks until the result is
	// available.
	RequestTemperatures()

	// TemperatureC returns the last reading of the sensor at index, or
	// DisconnectedC if there is none.
	TemperatureC(index int) float64
}

// Valid reports whether c is a plausible reading. DisconnectedC and values
// outside the DS18B20 range are rejected.
func Valid(c float64) bool {
	return c != DisconnectedC && c >= minC && c <= maxC
}

// W1Probe reads the first DS18B20 on the bus from its w1_slave file. Reading
// w1_slave makes the kernel run a conversion, which takes up to 750ms at
// 12-bit resolution, so only sensor 0 is ever read.
type W1Probe struct {
	fs  afero.Fs
	dir string

	mu      sync.Mutex
	reading float64
}

// NewW1Probe creates a probe rooted at dir on fs. An empty dir selects
// DefaultDevicesDir.
func NewW1Probe(fs afero.Fs, dir string) *W1Probe {
	if dir == "" {
		dir = DefaultDevicesDir
	}
	return &W1Probe{fs: fs, dir: dir, reading: DisconnectedC}
}

// Sensors returns the DS18B20 device directories on the bus in index order.
func (p *W1Probe) Sensors() ([]string, error) {
	matches, err := afero.Glob(p.fs, path.Join(p.dir, ds18b20Family+"-*"))
	if err != nil {
		return nil, errors.Wrap(err, "list w1 devices")
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, path.Base(m))
	}
	sort.Strings(ids)
	return ids, nil
}

// RequestTemperatures converts and reads sensor 0. A missing sensor, a read
// error or a failed CRC leaves DisconnectedC.
func (p *W1Probe) RequestTemperatures() {
	c := DisconnectedC
	if ids, err := p.Sensors(); err == nil && len(ids) > 0 {
		if data, err := afero.ReadFile(p.fs, path.Join(p.dir, ids[0], "w1_slave")); err == nil {
			c, _ = ParseW1Slave(data)
		}
	}

	p.mu.Lock()
	p.reading = c
	p.mu.Unlock()
}

// TemperatureC returns the reading from the last RequestTemperatures. Only
// index 0 is supported.
func (p *W1Probe) TemperatureC(index int) float64 {
	if index != 0 {
		return DisconnectedC
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reading
}

// ParseW1Slave decodes the two-line w1_slave format:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func ParseW1Slave(data []byte) (float64, error) {
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	if len(lines) < 2 {
		return DisconnectedC, errors.New("w1_slave: short read")
	}
	if !bytes.HasSuffix(bytes.TrimSpace(lines[0]), []byte("YES")) {
		return DisconnectedC, errors.New("w1_slave: crc check failed")
	}
	i := bytes.Index(lines[1], []byte("t="))
	if i < 0 {
		return DisconnectedC, errors.New("w1_slave: missing temperature")
	}
	milli, err := strconv.Atoi(string(bytes.TrimSpace(lines[1][i+2:])))
	if err != nil {
		return DisconnectedC, errors.Wrap(err, "w1_slave: parse temperature")
	}
	return float64(milli) / 1000, nil
}
