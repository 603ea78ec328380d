package session

// Info holds protocol-specific facts filled in by an application decoder.
// A session starts without one (pending).
type Info interface {
	// Kind names the application protocol, e.g. "http".
	Kind() string
}

// HTTPInfo describes one HTTP exchange.
type HTTPInfo struct {
	Method       string
	URI          string
	StatusCode   uint16
	ResponseTime uint64 // caller timestamp units
}

func (HTTPInfo) Kind() string { return "http" }

// DNSInfo describes one DNS transaction.
type DNSInfo struct {
	Query    string
	Response string
	Status   uint16 // RCODE
	Latency  uint64 // caller timestamp units
}

func (DNSInfo) Kind() string { return "dns" }
