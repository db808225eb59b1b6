package reactor

import (
	"time"

	"github.com/BurntSushi/toml"
)

// fileOptions mirrors Options in a TOML-friendly shape for LoadOptionsFile;
// not every Options field is exposed this way (LoadBalancer is not), only
// the ones a cmd/ example server typically wants to vary without a
// rebuild, plus the log file settings.
type fileOptions struct {
	NumLoops         int    `toml:"num_loops"`
	ReusePort        bool   `toml:"reuse_port"`
	TCPKeepAliveSecs int    `toml:"tcp_keepalive_secs"`
	TCPNoDelay       bool   `toml:"tcp_nodelay"`
	SocketRecvBuffer int    `toml:"socket_recv_buffer"`
	SocketSendBuffer int    `toml:"socket_send_buffer"`
	ReadBufferCap    int    `toml:"read_buffer_cap"`
	LockOSThread     bool   `toml:"lock_os_thread"`
	TickerSecs       int    `toml:"ticker_secs"`
	LogFile          string `toml:"log_file"`
	LogFileMaxSizeMB int    `toml:"log_file_max_size_mb"`
}

// LoadOptionsFile decodes a TOML configuration file into a slice of
// Option values suitable for NewTcpServer. Intended for cmd/ example
// servers that want file-driven configuration instead of flags.
func LoadOptionsFile(path string) ([]Option, error) {
	var fo fileOptions
	if _, err := toml.DecodeFile(path, &fo); err != nil {
		return nil, err
	}

	opts := []Option{
		WithNumLoops(fo.NumLoops),
		WithReusePort(fo.ReusePort),
		WithTCPNoDelay(fo.TCPNoDelay),
		WithLockOSThread(fo.LockOSThread),
	}
	if fo.TCPKeepAliveSecs > 0 {
		opts = append(opts, WithTCPKeepAlive(time.Duration(fo.TCPKeepAliveSecs)*time.Second))
	}
	if fo.SocketRecvBuffer > 0 {
		opts = append(opts, WithSocketRecvBuffer(fo.SocketRecvBuffer))
	}
	if fo.SocketSendBuffer > 0 {
		opts = append(opts, WithSocketSendBuffer(fo.SocketSendBuffer))
	}
	if fo.ReadBufferCap > 0 {
		opts = append(opts, WithReadBufferCap(fo.ReadBufferCap))
	}
	if fo.TickerSecs > 0 {
		opts = append(opts, WithTicker(time.Duration(fo.TickerSecs)*time.Second))
	}
	if fo.LogFile != "" {
		maxSize := fo.LogFileMaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		opts = append(opts, WithLogFile(fo.LogFile, maxSize))
	}
	return opts, nil
}
