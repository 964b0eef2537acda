package dataagent

import (
	"bufio"
	"errors"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"
)

// formatterPollDeadline makes the otherwise-blocking pipe reads behave
// like the non-blocking channel/tcp.go reads the session scheduler expects:
// a near-zero deadline turns "nothing to read yet" into ErrWouldBlock
// instead of stalling the quantum.
const formatterPollDeadline = time.Millisecond

// ErrWouldBlock mirrors internal/channel's sentinel for "no data/space
// right now, try again next quantum."
var ErrWouldBlock = errors.New("dataagent: would block")

// Formatter is the backup/restore child process plus its three pipes:
// image data, stderr (mirrored as LOG notifications), and wrap
// (file-history and environment-update records). Only descriptors 3, 4,
// and 5 are handed to the child; fork/exec closes everything else via
// exec.Cmd's default fd hygiene.
type Formatter struct {
	cmd *exec.Cmd

	imageFile  *os.File // parent's end of the image pipe
	stderrFile *os.File
	wrapFile   *os.File

	stderrReader  *bufio.Reader
	stderrPending string
	wrapReader    *bufio.Reader
	wrapPending   string

	exitErr  error
	waitDone chan struct{}
}

// spawnFormatter forks commandLine (run through /bin/sh -c, matching how a
// host-configured formatter command line is normally invoked) with three
// extra file descriptors wired to pipes. forBackup selects which end of
// the image pipe the child holds: for a backup the child writes formatted
// data the parent forwards to the image stream; for a recovery the child
// reads data the parent has drained from the image stream.
func spawnFormatter(commandLine string, forBackup bool) (*Formatter, error) {
	imageParent, imageChild, err := makeImagePipe(forBackup)
	if err != nil {
		return nil, err
	}
	stderrChild, stderrParent, err := os.Pipe()
	if err != nil {
		imageParent.Close()
		imageChild.Close()
		return nil, err
	}
	wrapChild, wrapParent, err := os.Pipe()
	if err != nil {
		imageParent.Close()
		imageChild.Close()
		stderrChild.Close()
		stderrParent.Close()
		return nil, err
	}

	cmd := exec.Command("/bin/sh", "-c", commandLine)
	cmd.ExtraFiles = []*os.File{imageChild, stderrChild, wrapChild}

	if err := cmd.Start(); err != nil {
		imageParent.Close()
		imageChild.Close()
		stderrChild.Close()
		stderrParent.Close()
		wrapChild.Close()
		wrapParent.Close()
		return nil, err
	}

	// Parent closes its copies of the child's ends immediately after
	// fork; only the child's inherited fds (3, 4, 5) keep them open now.
	imageChild.Close()
	stderrChild.Close()
	wrapChild.Close()

	setNonblockingDeadline(imageParent)
	setNonblockingDeadline(stderrParent)

	f := &Formatter{
		cmd:          cmd,
		imageFile:    imageParent,
		stderrFile:   stderrParent,
		wrapFile:     wrapParent,
		stderrReader: bufio.NewReader(stderrParent),
		wrapReader:   bufio.NewReader(wrapParent),
		waitDone:     make(chan struct{}),
	}

	go func() {
		f.exitErr = cmd.Wait()
		close(f.waitDone)
	}()

	return f, nil
}

// makeImagePipe returns (parentEnd, childEnd) for the image data pipe,
// oriented so the child writes during a backup and reads during a
// recovery.
func makeImagePipe(forBackup bool) (parent, child *os.File, err error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	if forBackup {
		return r, w, nil // child writes (w), parent reads (r)
	}
	return w, r, nil // child reads (r), parent writes (w)
}

// setNonblockingDeadline best-effort arms a read/write deadline on f; a
// pipe's *os.File supports deadlines on platforms where the runtime
// poller backs it. Where it doesn't, reads block until data arrives
// instead of returning ErrWouldBlock — a coarser
// but still-correct degradation, the same tradeoff internal/channel's
// Windows reactor fallback documents.
func setNonblockingDeadline(f *os.File) {
	type deadliner interface {
		SetReadDeadline(time.Time) error
	}
	if d, ok := interface{}(f).(deadliner); ok {
		_ = d.SetReadDeadline(time.Now().Add(formatterPollDeadline))
	}
}

// Exited reports whether the child has exited, and its error if any.
func (f *Formatter) Exited() (bool, error) {
	select {
	case <-f.waitDone:
		return true, f.exitErr
	default:
		return false, nil
	}
}

// ReadImage performs one bounded, non-blocking read from the image pipe
// (backup direction: child -> parent).
func (f *Formatter) ReadImage(buf []byte) (int, error) {
	return pollRead(f.imageFile, buf)
}

// WriteImage performs one bounded, non-blocking write to the image pipe
// (recovery direction: parent -> child).
func (f *Formatter) WriteImage(buf []byte) (int, error) {
	if err := f.imageFile.SetWriteDeadline(time.Now().Add(formatterPollDeadline)); err == nil {
		n, werr := f.imageFile.Write(buf)
		if werr != nil && isTimeout(werr) {
			return n, ErrWouldBlock
		}
		return n, werr
	}
	return f.imageFile.Write(buf)
}

// PollStderr reads at most one line from the child's stderr, to be
// mirrored as an NDMP LOG notification. Returns ("", false, nil) if no
// full line is currently available.
func (f *Formatter) PollStderr() (line string, ok bool, err error) {
	return pollLine(f.stderrFile, f.stderrReader, &f.stderrPending)
}

// PollWrap reads at most one line from the wrap channel, the formatter's
// file-history / environment-update mini-protocol. Each line is either
// "ENV name value", "FILE path", "DIR name parent_node node", or
// "NODE node".
func (f *Formatter) PollWrap() (line string, ok bool, err error) {
	return pollLine(f.wrapFile, f.wrapReader, &f.wrapPending)
}

func pollRead(f *os.File, buf []byte) (int, error) {
	if err := f.SetReadDeadline(time.Now().Add(formatterPollDeadline)); err == nil {
		n, err := f.Read(buf)
		if err != nil && isTimeout(err) {
			return n, ErrWouldBlock
		}
		return n, err
	}
	return f.Read(buf)
}

// pollLine reads a single newline-terminated line, non-blocking: it makes
// one read attempt under formatterPollDeadline and returns ok=false if
// that attempt timed out before a newline arrived. A fragment read before
// a timeout is kept in *pending and prefixed onto the next successful
// read, so a line split across quanta is never lost.
func pollLine(f *os.File, r *bufio.Reader, pending *string) (string, bool, error) {
	if err := f.SetReadDeadline(time.Now().Add(formatterPollDeadline)); err != nil {
		return "", false, nil
	}

	line, err := r.ReadString('\n')
	if err != nil {
		*pending += line
		if isTimeout(err) {
			return "", false, nil
		}
		if *pending != "" {
			full := *pending
			*pending = ""
			return strings.TrimRight(full, "\n"), true, nil
		}
		return "", false, err
	}

	full := *pending + line
	*pending = ""
	return strings.TrimRight(full, "\n"), true, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return os.IsTimeout(err)
}

// Kill terminates the child and releases the pipes; used on abort and on
// internal error.
func (f *Formatter) Kill() {
	if f.cmd.Process != nil {
		_ = f.cmd.Process.Kill()
	}
	f.imageFile.Close()
	f.stderrFile.Close()
	f.wrapFile.Close()
}

// Close releases the pipes without killing an already-exited child.
func (f *Formatter) Close() {
	f.imageFile.Close()
	f.stderrFile.Close()
	f.wrapFile.Close()
}
