package logs

import (
	"errors"
	"sync"
	"time"
)

type LogEntry struct {
	Time    time.Time
	data    []byte
	session string
}

func NewLogEntry(data []byte, session string) *LogEntry {
	return &LogEntry{
		data:    data,
		Time:    time.Now(),
		session: session,
	}
}

func (l *LogEntry) Size() int {
	return len(l.data)
}

func (l *LogEntry) String() string {
	if l.data == nil {
		return ""
	}
	return string(l.data)
}

func (l *LogEntry) GetSession() string {
	return l.session
}

// FIFOLog keeps the most recent output lines of a transfer, bounded by the
// total size of the stored lines.
type FIFOLog struct {
	maxlen      int
	data        []*LogEntry
	lock        sync.Mutex
	currentSize int
}

// NewFIFOLog returns a new FifoLog struct
func NewFIFOLog(maxSize int) *FIFOLog {
	return &FIFOLog{
		data:   []*LogEntry{},
		maxlen: maxSize,
	}
}

// CurrentSize returns the buffer size.
func (f *FIFOLog) CurrentSize() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.currentSize
}

// Len returns the number of stored entries.
func (f *FIFOLog) Len() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.data)
}

// Write appends the entry, dropping the oldest entries until the buffer fits.
// The newest entry is always kept even when it alone exceeds the limit.
func (f *FIFOLog) Write(entry *LogEntry) error {
	if entry == nil {
		return errors.New("no log entry added")
	}
	f.lock.Lock()
	defer f.lock.Unlock()

	f.data = append(f.data, entry)
	f.currentSize = f.currentSize + entry.Size()
	for f.currentSize > f.maxlen && len(f.data) > 1 {
		f.currentSize = f.currentSize - f.data[0].Size()
		f.data[0] = nil
		f.data = f.data[1:]
	}
	return nil
}

// WriteLine is a shortcut for writing a text line.
func (f *FIFOLog) WriteLine(line, session string) {
	_ = f.Write(NewLogEntry([]byte(line), session))
}

// Last returns the newest entry, nil when empty.
func (f *FIFOLog) Last() *LogEntry {
	f.lock.Lock()
	defer f.lock.Unlock()
	if len(f.data) == 0 {
		return nil
	}
	return f.data[len(f.data)-1]
}

// Lines returns the stored lines, oldest first, without consuming them.
func (f *FIFOLog) Lines() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	res := make([]string, 0, len(f.data))
	for _, entry := range f.data {
		res = append(res, entry.String())
	}
	return res
}

// ReadLine reads the line and delete it from the current buffer.
func (f *FIFOLog) ReadLine() (*LogEntry, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if len(f.data) == 0 {
		return nil, nil
	}
	res := f.data[0]
	f.data = f.data[1:]
	f.currentSize = f.currentSize - res.Size()
	return res, nil
}
