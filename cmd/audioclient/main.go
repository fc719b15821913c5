package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"speech-analytics-service/internal/models"
	"speech-analytics-service/internal/service/audio"
)

// Stream audio in chunks to simulate real-time capture.
// At 16kHz 16-bit mono = 32000 bytes/second
const chunkIntervalMs = 100

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16kHz 16-bit mono)")
	serverAddr := flag.String("server", "localhost:8000", "HTTP server address")
	language := flag.String("language", "ko", "Session language")
	scenario := flag.String("scenario", "presentation", "Session scenario")
	realtime := flag.Bool("realtime", true, "Pace chunks at capture speed")
	flag.Parse()

	data, err := os.ReadFile(*audioFile)
	if err != nil {
		log.Fatalf("Failed to read audio file: %v", err)
	}
	pcm, sampleRate, ok := audio.DecodeWAV(data)
	if !ok {
		log.Fatal("Not a 16-bit mono PCM WAV file")
	}
	log.Printf("WAV file: sampleRate=%d duration=%.2fs", sampleRate, audio.Duration(len(pcm), sampleRate))
	if sampleRate != 16000 {
		log.Printf("Warning: Sample rate is %d Hz, expected 16000 Hz", sampleRate)
	}

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/api/v1/stt/stream"}
	u.RawQuery = url.Values{"language": {*language}, "scenario": {*scenario}}.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", u.String())

	stopped := make(chan struct{})
	go readResults(conn, stopped)

	if err := conn.WriteJSON(map[string]string{"command": "start_recording"}); err != nil {
		log.Fatalf("Failed to start recording: %v", err)
	}

	chunkSize := sampleRate * 2 * chunkIntervalMs / 1000
	var chunkNum int
	startTime := time.Now()
	for off := 0; off < len(pcm); off += chunkSize {
		end := min(off+chunkSize, len(pcm))
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[off:end]); err != nil {
			log.Fatalf("Failed to send chunk: %v", err)
		}
		chunkNum++
		if chunkNum%50 == 0 {
			log.Printf("Sent chunk %d (%d bytes total)", chunkNum, end)
		}
		if *realtime {
			time.Sleep(chunkIntervalMs * time.Millisecond)
		}
	}
	log.Printf("Finished streaming: %d chunks, %d bytes in %v", chunkNum, len(pcm), time.Since(startTime))

	if err := conn.WriteJSON(map[string]string{"command": "stop_recording"}); err != nil {
		log.Fatalf("Failed to stop recording: %v", err)
	}

	select {
	case <-stopped:
	case <-time.After(60 * time.Second):
		log.Fatal("Timed out waiting for recording_stopped")
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func readResults(conn *websocket.Conn, stopped chan<- struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Type          string                `json:"type"`
			Text          string                `json:"text"`
			SegmentID     int                   `json:"segmentId"`
			IsFinal       bool                  `json:"isFinal"`
			Message       string                `json:"message"`
			SpeechMetrics *models.SpeechMetrics `json:"speechMetrics"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Unparseable message: %s", data)
			continue
		}
		switch msg.Type {
		case "transcription":
			log.Printf("[%d final=%t] %s", msg.SegmentID, msg.IsFinal, msg.Text)
			if msg.SpeechMetrics != nil {
				log.Printf("    wpm=%.1f speed=%s", msg.SpeechMetrics.EvaluationWPM, msg.SpeechMetrics.SpeedCategory)
			}
		case "recording_stopped":
			log.Println("Recording stopped")
			close(stopped)
			return
		default:
			log.Printf("%s %s", msg.Type, msg.Message)
		}
	}
}
