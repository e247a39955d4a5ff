package firmware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/nerrad567/homeapp-node/internal/ota"
)

// ChunkSize is the read size of one Perform call.
const ChunkSize = 4096

const defaultRecvTimeout = 5 * time.Second

// HTTPClient is the subset of *http.Client used by the updater.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns an HTTPS client that trusts only the certificates
// in caFile, or the system roots when caFile is empty.
func NewHTTPClient(caFile string, recvTimeout time.Duration) (*http.Client, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", caFile)
		}
		tlsConfig.RootCAs = pool
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			TLSClientConfig:       tlsConfig,
			TLSHandshakeTimeout:   recvTimeout,
			ResponseHeaderTimeout: recvTimeout,
			IdleConnTimeout:       90 * time.Second,
		},
	}, nil
}

// Updater downloads images over HTTPS into the inactive slot.
type Updater struct {
	client      HTTPClient
	slots       *Slots
	recvTimeout time.Duration

	mu       sync.Mutex
	observer ota.StageObserver
}

// NewUpdater creates an Updater writing into slots. recvTimeout bounds
// every network read; a stalled transfer fails after that long.
func NewUpdater(client HTTPClient, slots *Slots, recvTimeout time.Duration) *Updater {
	if recvTimeout <= 0 {
		recvTimeout = defaultRecvTimeout
	}
	return &Updater{
		client:      client,
		slots:       slots,
		recvTimeout: recvTimeout,
	}
}

// OnStage implements ota.StageNotifier.
func (u *Updater) OnStage(fn ota.StageObserver) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.observer = fn
}

func (u *Updater) notify(stage ota.Stage, detail int64) {
	u.mu.Lock()
	fn := u.observer
	u.mu.Unlock()
	if fn != nil {
		fn(stage, detail)
	}
}

// Begin implements ota.Updater.
func (u *Updater) Begin(ctx context.Context, url string) (ota.Session, error) {
	u.notify(ota.StageStart, 0)

	ctx, cancel := context.WithCancel(ctx)
	idle := time.AfterFunc(u.recvTimeout, cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		idle.Stop()
		cancel()
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		idle.Stop()
		cancel()
		return nil, fmt.Errorf("requesting image: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		idle.Stop()
		cancel()
		return nil, fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}
	u.notify(ota.StageConnected, 0)

	file, err := u.slots.createIncoming()
	if err != nil {
		resp.Body.Close()
		idle.Stop()
		cancel()
		return nil, err
	}

	return &session{
		u:             u,
		cancel:        cancel,
		idle:          idle,
		body:          resp.Body,
		contentLength: resp.ContentLength,
		file:          file,
		hash:          sha256.New(),
		buf:           make([]byte, ChunkSize),
	}, nil
}

// session is one download into a temporary file. It is used from a
// single goroutine.
type session struct {
	u             *Updater
	cancel        context.CancelFunc
	idle          *time.Timer
	body          io.ReadCloser
	contentLength int64
	file          *os.File
	hash          hash.Hash
	buf           []byte

	header      Header
	haveHeader  bool
	read        int64
	payloadRead uint64
	closed      bool
}

func (s *session) touch() {
	s.idle.Reset(s.u.recvTimeout)
}

func (s *session) readHeader() error {
	if s.haveHeader {
		return nil
	}
	s.touch()
	h, err := ReadHeader(s.body)
	if err != nil {
		return err
	}
	if s.contentLength > 0 && uint64(s.contentLength) > HeaderSize+h.PayloadLen {
		return fmt.Errorf("%w: %d bytes announced for a %d byte payload", ErrImageTooLarge, s.contentLength, h.PayloadLen)
	}
	raw, _ := h.MarshalBinary()
	if _, err := s.file.Write(raw); err != nil {
		return fmt.Errorf("writing image header: %w", err)
	}
	s.header = h
	s.haveHeader = true
	s.read += HeaderSize
	return nil
}

// ImageDescriptor implements ota.Session.
func (s *session) ImageDescriptor() (ota.Descriptor, error) {
	if s.closed {
		return ota.Descriptor{}, ErrSessionClosed
	}
	if err := s.readHeader(); err != nil {
		return ota.Descriptor{}, err
	}
	s.u.notify(ota.StageImageDescriptor, 0)
	return s.header.Descriptor(), nil
}

// Perform implements ota.Session.
func (s *session) Perform() error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.readHeader(); err != nil {
		return err
	}
	remaining := s.header.PayloadLen - s.payloadRead
	if remaining == 0 {
		return nil
	}

	buf := s.buf
	if uint64(len(buf)) > remaining {
		buf = buf[:remaining]
	}
	s.touch()
	n, err := s.body.Read(buf)
	if n > 0 {
		if _, werr := s.file.Write(buf[:n]); werr != nil {
			return fmt.Errorf("writing image: %w", werr)
		}
		s.hash.Write(buf[:n])
		s.payloadRead += uint64(n)
		s.read += int64(n)
		s.u.notify(ota.StageWrite, s.read)
	}
	switch {
	case errors.Is(err, io.EOF):
		return nil
	case err != nil:
		return fmt.Errorf("reading image: %w", err)
	case s.payloadRead == s.header.PayloadLen:
		return nil
	default:
		return ota.ErrInProgress
	}
}

// BytesRead implements ota.Session.
func (s *session) BytesRead() int64 { return s.read }

// IsComplete implements ota.Session.
func (s *session) IsComplete() bool {
	return s.haveHeader && s.payloadRead == s.header.PayloadLen
}

// Finish implements ota.Session. The session is released in every case.
func (s *session) Finish() error {
	if s.closed {
		return ErrSessionClosed
	}
	s.release()

	path := s.file.Name()
	if !s.IsComplete() {
		s.discard()
		return fmt.Errorf("%w: %d of %d payload bytes", ota.ErrValidateFailed, s.payloadRead, s.header.PayloadLen)
	}
	if !bytes.Equal(s.hash.Sum(nil), s.header.SHA256[:]) {
		s.discard()
		return fmt.Errorf("%w: sha256 mismatch", ota.ErrValidateFailed)
	}
	if err := s.file.Sync(); err != nil {
		s.discard()
		return fmt.Errorf("syncing image: %w", err)
	}
	if err := s.file.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("closing image: %w", err)
	}

	slot, err := s.u.slots.install(path, s.header)
	if err != nil {
		os.Remove(path)
		return err
	}
	s.u.notify(ota.StageBootSlotUpdated, int64(slot))
	s.u.notify(ota.StageFinish, 0)
	return nil
}

// Abort implements ota.Session.
func (s *session) Abort() error {
	if s.closed {
		return nil
	}
	s.release()
	s.discard()
	s.u.notify(ota.StageAbort, 0)
	return nil
}

// release closes the network side of the session.
func (s *session) release() {
	s.closed = true
	s.idle.Stop()
	s.body.Close()
	s.cancel()
}

// discard removes the partially written image.
func (s *session) discard() {
	s.file.Close()
	os.Remove(s.file.Name())
}

var (
	_ ota.Updater       = (*Updater)(nil)
	_ ota.StageNotifier = (*Updater)(nil)
)
