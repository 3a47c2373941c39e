package connection

import (
	"github.com/lintestor-go/lintestor/pkg/config"
)

// New returns the backend named by target.TestingType. Unknown types fail
// fast (spec §4.1's factory contract).
func New(target *config.Target, opts Options) (Connection, error) {
	switch target.TestingType {
	case "local", "locally":
		return NewLocal(), nil
	case "remote", "ssh":
		return NewSSH(target, opts), nil
	case "qemu", "qemu-based-remote":
		return NewQEMU(target, opts), nil
	case "boardtest":
		return NewBoardtest(target), nil
	case "serial":
		return NewSerial(target), nil
	default:
		return nil, &ErrUnknownTestingType{TestingType: target.TestingType}
	}
}
