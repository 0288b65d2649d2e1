// Package das is the serial acquisition service: it owns the
// microcontroller's serial port, turns line-framed JSON into sensor
// events, and survives unplug/replug by watching the enumerated port
// list. It has no knowledge of the broker connection; callers (the
// publish orchestrator, the admin notification path) bridge the two by
// registering data callbacks and issuing outbound commands.
package das

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/RodrigoJC20/tinymq-client/internal/store"
)

// serialPort is the slice of go.bug.st/serial.Port this service
// actually uses; keeping it narrow lets tests substitute an in-memory
// pipe without building a full serial.Port fake.
type serialPort interface {
	io.Reader
	io.Writer
	io.Closer
}

func defaultOpenPort(name string, mode *serial.Mode) (serialPort, error) {
	return serial.Open(name, mode)
}

// Reading is one sensor event delivered to registered callbacks.
type Reading struct {
	Value     string
	Timestamp int64
	Units     string
}

// DataCallback consumes one sensor event as it arrives off the wire.
type DataCallback func(sensorName string, reading Reading)

// Stats is the snapshot returned by Service.Stats.
type Stats struct {
	Running          bool
	Port             string
	Baud             int
	ReadingsReceived int64
	Callbacks        int
}

// Service is the data acquisition service for one configured serial port.
type Service struct {
	db      store.Store
	log     *slog.Logger
	port    string
	baud    int
	verbose bool

	openPort func(name string, mode *serial.Mode) (serialPort, error)
	listPorts func() ([]string, error)

	mu        sync.Mutex
	conn      serialPort
	running   bool
	stopCh    chan struct{}
	watchStop chan struct{}
	wg        sync.WaitGroup

	callbacksMu sync.Mutex
	callbacks   []DataCallback

	readingsReceived int64
}

// Option configures a Service at construction time.
type Option func(*Service)

// WithVerbose logs every accepted reading at debug level.
func WithVerbose(verbose bool) Option {
	return func(s *Service) { s.verbose = verbose }
}

// WithLogger overrides the service's logger (default discards output).
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.log = logger }
}

// New creates a DAS bound to the given serial port and baud rate. The
// port is not opened until Start is called.
func New(db store.Store, port string, baud int, opts ...Option) *Service {
	s := &Service{
		db:        db,
		log:       slog.New(slog.NewTextHandler(discardWriter{}, nil)),
		port:      port,
		baud:      baud,
		openPort:  defaultOpenPort,
		listPorts: serial.GetPortsList,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start attempts one open of the configured port. If that fails and
// autoRetry is true, it spawns a USB-watcher goroutine that polls the
// enumerated port list roughly every second and opens the port as soon
// as it reappears. Start returns true only if the initial open succeeded.
func (s *Service) Start(autoRetry bool) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	if s.open() {
		return true
	}

	if autoRetry {
		s.startWatcher()
	}
	return false
}

// open tries to establish the serial connection and, on success, starts
// the reader goroutine. Caller must not hold s.mu.
func (s *Service) open() bool {
	mode := &serial.Mode{BaudRate: s.baud}
	conn, err := s.openPort(s.port, mode)
	if err != nil {
		s.log.Debug("das: open failed", "port", s.port, "error", err)
		return false
	}

	s.mu.Lock()
	s.conn = conn
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.readLoop(conn, s.stopCh)

	s.log.Info("das: port opened", "port", s.port, "baud", s.baud)
	return true
}

// startWatcher launches the USB watcher if one isn't already running.
func (s *Service) startWatcher() {
	s.mu.Lock()
	if s.watchStop != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.watchStop = stop
	s.mu.Unlock()

	s.wg.Add(1)
	go s.watchLoop(stop)
}

// watchLoop polls the enumerated serial port list every second; when a
// port appears that wasn't present on the previous poll, it attempts to
// open the configured port.
func (s *Service) watchLoop(stop chan struct{}) {
	defer s.wg.Done()

	previous, _ := s.listPorts()
	known := toSet(previous)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			alreadyRunning := s.running
			s.mu.Unlock()
			if alreadyRunning {
				return
			}

			current, err := s.listPorts()
			if err != nil {
				continue
			}

			newlyPresent := false
			for _, p := range current {
				if !known[p] {
					newlyPresent = true
				}
			}
			known = toSet(current)

			if newlyPresent && s.open() {
				return
			}
		}
	}
}

func toSet(ports []string) map[string]bool {
	set := make(map[string]bool, len(ports))
	for _, p := range ports {
		set[p] = true
	}
	return set
}

// Stop halts the watcher and reader and closes the port.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	if s.watchStop != nil {
		close(s.watchStop)
		s.watchStop = nil
	}
	conn := s.conn
	s.conn = nil
	s.running = false
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	s.wg.Wait()
}

// SendCommand serializes obj as a single JSON object followed by '\n'
// and writes it to the port. It fails if the port is not currently open.
func (s *Service) SendCommand(obj any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("das: port not open")
	}

	encoded, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("das: encode command: %w", err)
	}
	encoded = append(encoded, '\n')

	if _, err := conn.Write(encoded); err != nil {
		return fmt.Errorf("das: write command: %w", err)
	}
	return nil
}

// AddDataCallback registers a consumer invoked as fn(sensorName, reading)
// for every sensor event.
func (s *Service) AddDataCallback(fn DataCallback) {
	s.callbacksMu.Lock()
	defer s.callbacksMu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

// ClearCallbacks removes all registered data callbacks.
func (s *Service) ClearCallbacks() {
	s.callbacksMu.Lock()
	defer s.callbacksMu.Unlock()
	s.callbacks = nil
}

// Stats reports a point-in-time snapshot of the service's state.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	s.callbacksMu.Lock()
	numCallbacks := len(s.callbacks)
	s.callbacksMu.Unlock()

	return Stats{
		Running:          running,
		Port:             s.port,
		Baud:             s.baud,
		ReadingsReceived: s.readingsReceived,
		Callbacks:        numCallbacks,
	}
}

// readLoop reads one line at a time and dispatches complete lines to
// processLine. On any read error (unplug, permission loss) it closes
// the port, marks the service stopped, and restarts the USB watcher so
// a subsequent plug-in can re-establish the reader.
func (s *Service) readLoop(conn serialPort, stop chan struct{}) {
	defer s.wg.Done()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 64*1024)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for scanner.Scan() {
			s.processLine(scanner.Bytes())
		}
	}()

	select {
	case <-done:
		conn.Close()
	case <-stop:
		conn.Close()
		<-done
	}

	s.mu.Lock()
	wasRunning := s.running
	if s.conn == conn {
		s.conn = nil
		s.running = false
	}
	s.mu.Unlock()

	select {
	case <-stop:
		// Stop() already closed everything; nothing further to do.
	default:
		if wasRunning {
			s.log.Warn("das: serial read loop exited, restarting watcher", "port", s.port)
			s.startWatcher()
		}
	}
}

// processLine parses one complete line as JSON and dispatches readings.
func (s *Service) processLine(line []byte) {
	if len(line) == 0 {
		return
	}

	var array []map[string]any
	if err := json.Unmarshal(line, &array); err == nil {
		for _, obj := range array {
			s.handleReadingObject(obj)
		}
		return
	}

	var obj map[string]any
	if err := json.Unmarshal(line, &obj); err != nil {
		if s.verbose {
			s.log.Debug("das: non-JSON line", "line", string(line))
		}
		return
	}

	if _, ok := obj["result"]; ok {
		return
	}
	if _, ok := obj["error"]; ok {
		return
	}
	s.handleReadingObject(obj)
}

func (s *Service) handleReadingObject(obj map[string]any) {
	name, _ := obj["name"].(string)
	if name == "" {
		return
	}
	value, ok := obj["value"]
	if !ok {
		return
	}

	units, _ := obj["units"].(string)
	timestamp := time.Now().Unix()
	if ts, ok := obj["timestamp"].(float64); ok {
		timestamp = int64(ts)
	}

	s.storeAndDispatch(name, stringifyValue(value), timestamp, units)
}

func stringifyValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		encoded, _ := json.Marshal(t)
		return string(encoded)
	}
}

func (s *Service) storeAndDispatch(name, value string, timestamp int64, units string) {
	if s.db != nil {
		if err := s.db.AddReading(name, value, timestamp, units); err != nil {
			s.log.Error("das: persist reading failed", "sensor", name, "error", err)
		}
	}
	s.readingsReceived++

	reading := Reading{Value: value, Timestamp: timestamp, Units: units}

	s.callbacksMu.Lock()
	callbacks := append([]DataCallback(nil), s.callbacks...)
	s.callbacksMu.Unlock()

	for _, cb := range callbacks {
		cb(name, reading)
	}

	if s.verbose {
		s.log.Debug("das: reading stored", "sensor", name, "value", value, "units", units, "timestamp", timestamp)
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
