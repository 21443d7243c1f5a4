package health

import (
	"sync"
	"time"
)

// MockHealthReporter is a Reporter whose answers are set by tests.
type MockHealthReporter struct {
	isAlive bool
	isReady bool
	mutex   sync.Mutex
}

func (m *MockHealthReporter) SetAlive(isAlive bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.isAlive = isAlive
}

func (m *MockHealthReporter) IsAlive() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.isAlive
}

func (m *MockHealthReporter) SetReady(isReady bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.isReady = isReady
}

func (m *MockHealthReporter) IsReady() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.isReady
}

// MockRecorder remembers the last report of each subsystem.
type MockRecorder struct {
	mutex      sync.Mutex
	registered map[string]bool
	ready      map[string]bool
}

func (m *MockRecorder) Register(subsystem string, _ time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.registered == nil {
		m.registered = make(map[string]bool)
		m.ready = make(map[string]bool)
	}
	m.registered[subsystem] = true
}

func (m *MockRecorder) Unregister(subsystem string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.registered, subsystem)
	delete(m.ready, subsystem)
}

func (m *MockRecorder) Ready(subsystem string, ready bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.registered[subsystem] {
		m.ready[subsystem] = ready
	}
}

func (m *MockRecorder) IsRegistered(subsystem string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.registered[subsystem]
}

func (m *MockRecorder) IsReady(subsystem string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.ready[subsystem]
}
