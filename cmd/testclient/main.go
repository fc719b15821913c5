package main

import (
	"encoding/binary"
	"flag"
	"log"
	"math"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	serverAddr := flag.String("server", "localhost:8000", "HTTP server address")
	seconds := flag.Float64("seconds", 3, "Length of the synthetic tone")
	flag.Parse()

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/api/v1/stt/stream", RawQuery: "language=en&scenario=interview"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Println("Connected to server")
	expect(conn, "connected")

	send(conn, map[string]string{"command": "start_recording"})
	expect(conn, "recording_started")

	// 440 Hz tone in 100ms frames
	pcm := tone(440, *seconds, 16000)
	for off := 0; off < len(pcm); off += 3200 {
		end := min(off+3200, len(pcm))
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[off:end]); err != nil {
			log.Fatalf("failed to send frame: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	send(conn, map[string]string{"command": "stop_recording"})
	for {
		if msg := read(conn); msg["type"] == "recording_stopped" {
			break
		}
	}

	send(conn, map[string]string{"command": "set_language", "language": "ko"})
	expect(conn, "language_changed")

	send(conn, map[string]string{"command": "reset"})
	expect(conn, "reset_complete")

	send(conn, map[string]string{"command": "process_final"})
	expect(conn, "processing_complete")

	log.Println("Command protocol OK")
}

func tone(freq, seconds float64, rate int) []byte {
	n := int(seconds * float64(rate))
	out := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		v := int16(0.3 * math.MaxInt16 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

func send(conn *websocket.Conn, v any) {
	if err := conn.WriteJSON(v); err != nil {
		log.Fatalf("failed to send command: %v", err)
	}
}

func read(conn *websocket.Conn) map[string]any {
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		log.Fatalf("failed to read message: %v", err)
	}
	log.Printf("Received %v: %v", msg["type"], msg)
	return msg
}

func expect(conn *websocket.Conn, typ string) {
	if msg := read(conn); msg["type"] != typ {
		log.Fatalf("expected %s, got %v", typ, msg["type"])
	}
}
