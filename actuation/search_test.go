package actuation

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func stubPorts(t *testing.T, ports []PortDescription, err error) {
	t.Helper()
	prev := listPorts
	listPorts = func() ([]PortDescription, error) { return ports, err }
	t.Cleanup(func() { listPorts = prev })
}

func TestSearch(t *testing.T) {
	stubPorts(t, []PortDescription{
		{Path: "/dev/ttyS0"},
		{Path: "/dev/ttyUSB1", USB: true, VID: "10C4", PID: "EA60"},
		{Path: "/dev/ttyACM0", USB: true, VID: "2341", PID: "0043", Product: "Arduino Uno"},
	}, nil)

	for _, tc := range []struct {
		filter   SearchFilter
		expected []string
	}{
		{SearchFilter{}, []string{"/dev/ttyACM0", "/dev/ttyUSB1", "/dev/ttyS0"}},
		{SearchFilter{VID: "2341"}, []string{"/dev/ttyACM0"}},
		{SearchFilter{VID: "10c4", PID: "ea60"}, []string{"/dev/ttyUSB1"}},
		{SearchFilter{PID: "0043"}, []string{"/dev/ttyACM0"}},
		{SearchFilter{VID: "2341", PID: "ea60"}, nil},
	} {
		found, err := Search(tc.filter)
		test.That(t, err, test.ShouldBeNil)
		var paths []string
		for _, desc := range found {
			paths = append(paths, desc.Path)
		}
		test.That(t, paths, test.ShouldResemble, tc.expected)
	}

	path, err := findPort(SearchFilter{VID: "2341"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, path, test.ShouldEqual, "/dev/ttyACM0")

	_, err = findPort(SearchFilter{VID: "dead"})
	test.That(t, err, test.ShouldWrap, ErrNoPort)
}

func TestAutoPortOpener(t *testing.T) {
	listErr := errors.New("no sysfs")
	stubPorts(t, nil, listErr)

	_, err := SerialConfig{Port: AutoPort, VID: "xyz"}.Normalize()
	test.That(t, err, test.ShouldNotBeNil)
	_, err = SerialConfig{Port: AutoPort, VID: "12345"}.Normalize()
	test.That(t, err, test.ShouldNotBeNil)

	open, err := PortOpener(SerialConfig{Port: AutoPort, VID: "2341"})
	test.That(t, err, test.ShouldBeNil)
	_, err = open()
	test.That(t, err, test.ShouldWrap, listErr)

	stubPorts(t, []PortDescription{{Path: "/dev/ttyS0"}}, nil)
	_, err = open()
	test.That(t, err, test.ShouldWrap, ErrNoPort)
}
