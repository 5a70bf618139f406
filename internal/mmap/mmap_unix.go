//go:build unix

package mmap

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

func mapReadOnly(fd *os.File, size int) ([]byte, func() error, error) {
	b, err := unix.Mmap(int(fd.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}
	return b, func() error { return unix.Munmap(b) }, nil
}

var madvice = map[Hint]int{
	HintNone:       unix.MADV_NORMAL,
	HintSequential: unix.MADV_SEQUENTIAL,
	HintRandom:     unix.MADV_RANDOM,
}

func advise(b []byte, h Hint) error {
	return ignoreInval(unix.Madvise(b, madvice[h]))
}

func willNeed(b []byte) error {
	return ignoreInval(unix.Madvise(b, unix.MADV_WILLNEED))
}

// Some kernels reject advice on special files; that is not a read error.
func ignoreInval(err error) error {
	if errors.Is(err, unix.EINVAL) {
		return nil
	}
	return err
}
