// Package util содержит вспомогательные утилиты, не являющиеся частью публичного API.
package util

import (
	"io"
	"os"
	"time"

	"go.bug.st/serial"
)

// SerialPortInterface - байтовый канал консоли. Реальный порт в production,
// мок-объект в тестах, stdin/stdout при запуске без порта.
type SerialPortInterface interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error
	SetReadTimeout(t time.Duration) error
}

// realPort - это обертка над реальной реализацией последовательного порта.
type realPort struct {
	port serial.Port
}

func (r *realPort) Read(p []byte) (n int, err error)     { return r.port.Read(p) }
func (r *realPort) Write(p []byte) (n int, err error)    { return r.port.Write(p) }
func (r *realPort) Close() error                         { return r.port.Close() }
func (r *realPort) SetReadTimeout(t time.Duration) error { return r.port.SetReadTimeout(t) }

// OpenPort открывает реальный последовательный порт.
func OpenPort(path string, mode *serial.Mode) (SerialPortInterface, error) {
	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return &realPort{port: p}, nil
}

// OpenConsolePort открывает порт консоли 8N1 с заданной скоростью.
// Пустой путь означает стандартные потоки процесса.
func OpenConsolePort(path string, baud int) (SerialPortInterface, error) {
	if path == "" {
		return NewStreamPort(os.Stdin, os.Stdout), nil
	}
	return OpenPort(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

// streamPort склеивает пару потоков в порт. Таймаут чтения не поддерживается.
type streamPort struct {
	r io.Reader
	w io.Writer
}

func NewStreamPort(r io.Reader, w io.Writer) SerialPortInterface {
	return &streamPort{r: r, w: w}
}

func (s *streamPort) Read(p []byte) (int, error)         { return s.r.Read(p) }
func (s *streamPort) Write(p []byte) (int, error)        { return s.w.Write(p) }
func (s *streamPort) SetReadTimeout(time.Duration) error { return nil }

func (s *streamPort) Close() error {
	if c, ok := s.r.(io.Closer); ok && s.r != os.Stdin {
		return c.Close()
	}
	return nil
}

// ListPorts возвращает имена последовательных портов системы.
func ListPorts() ([]string, error) { return serial.GetPortsList() }
