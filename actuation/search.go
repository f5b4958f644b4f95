package actuation

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.bug.st/serial/enumerator"
)

// AutoPort as the configured port searches for the robot controller each time the link is opened.
const AutoPort = "auto"

// ErrNoPort is returned when a port search matches nothing.
var ErrNoPort = errors.New("no matching serial port found")

// PortDescription describes a serial device found on the host.
type PortDescription struct {
	Path    string
	USB     bool
	VID     string
	PID     string
	Product string
}

// SearchFilter selects ports by USB vendor and product id. Empty fields match anything.
type SearchFilter struct {
	VID string
	PID string
}

func (f SearchFilter) matches(desc PortDescription) bool {
	if f.VID == "" && f.PID == "" {
		return true
	}
	if !desc.USB {
		return false
	}
	if f.VID != "" && !strings.EqualFold(f.VID, desc.VID) {
		return false
	}
	return f.PID == "" || strings.EqualFold(f.PID, desc.PID)
}

// listPorts is swapped out by tests.
var listPorts = func() ([]PortDescription, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "listing serial ports")
	}
	descs := make([]PortDescription, 0, len(details))
	for _, d := range details {
		descs = append(descs, PortDescription{
			Path:    d.Name,
			USB:     d.IsUSB,
			VID:     d.VID,
			PID:     d.PID,
			Product: d.Product,
		})
	}
	return descs, nil
}

// Search returns the serial ports matching filter. USB ports come first, then by path.
func Search(filter SearchFilter) ([]PortDescription, error) {
	all, err := listPorts()
	if err != nil {
		return nil, err
	}
	var found []PortDescription
	for _, desc := range all {
		if filter.matches(desc) {
			found = append(found, desc)
		}
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].USB != found[j].USB {
			return found[i].USB
		}
		return found[i].Path < found[j].Path
	})
	return found, nil
}

// findPort resolves the first port matching filter.
func findPort(filter SearchFilter) (string, error) {
	found, err := Search(filter)
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		return "", errors.Wrapf(ErrNoPort, "vid=%q pid=%q", filter.VID, filter.PID)
	}
	return found[0].Path, nil
}

func validUSBID(id string) error {
	if id == "" {
		return nil
	}
	if _, err := strconv.ParseUint(id, 16, 16); err != nil {
		return errors.Errorf("invalid usb id %q: expected up to 4 hex digits", id)
	}
	return nil
}
