package documents

import (
	"fmt"
	"io"
	"strings"

	"github.com/dutchcoders/go-clamd"

	"staffHub/internal/errcode"
)

// ErrInfected 表示病毒扫描命中。
var ErrInfected = errcode.Validation("malicious file detected")

// Scanner 在保留上传内容前检查其内容。
type Scanner interface {
	Scan(r io.Reader) error
}

// NewScanner 返回 clamd 扫描器，addr 为空时返回空操作实现。
func NewScanner(addr string) Scanner {
	if strings.TrimSpace(addr) == "" {
		return nopScanner{}
	}
	return &clamdScanner{client: clamd.NewClamd(addr)}
}

type nopScanner struct{}

func (nopScanner) Scan(io.Reader) error { return nil }

type clamdScanner struct {
	client *clamd.Clamd
}

func (s *clamdScanner) Scan(r io.Reader) error {
	abort := make(chan bool)
	defer close(abort)

	results, err := s.client.ScanStream(r, abort)
	if err != nil {
		return errcode.Storage("scan file", err)
	}
	for result := range results {
		switch result.Status {
		case clamd.RES_OK:
		case clamd.RES_FOUND:
			return fmt.Errorf("%w: %s", ErrInfected, result.Description)
		default:
			return errcode.Storage("scan file", fmt.Errorf("clamd: %s %s", result.Status, result.Description))
		}
	}
	return nil
}
