// Command mockrecognizer is a local recognition service for development.
// It speaks the client's WebSocket protocol and simulates realistic
// recognition behavior: progressive partial transcripts followed by exactly
// one final transcript per utterance.
package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/seeyonai/summit-transcribe/internal/observability/logging"
	"github.com/seeyonai/summit-transcribe/internal/protocol"
)

// utterance is a scripted utterance with progressive transcripts.
type utterance struct {
	partials []string
	final    string
}

var utterances = []utterance{
	{
		partials: []string{"I want", "I want to", "I want to cancel"},
		final:    "I want to cancel my subscription",
	},
	{
		partials: []string{"Yes", "Yes please"},
		final:    "Yes please go ahead",
	},
	{
		partials: []string{"Can you", "Can you help", "Can you help me with"},
		final:    "Can you help me with my account",
	},
	{
		partials: []string{"I've been", "I've been waiting", "I've been waiting for"},
		final:    "I've been waiting for over an hour",
	},
	{
		partials: []string{"Thank you"},
		final:    "Thank you very much",
	},
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// framesPerStep controls how many audio frames advance the script by one
// transcript. At 100ms frames this paces one partial per half second.
const framesPerStep = 5

func main() {
	addr := flag.String("addr", ":8765", "listen address")
	flag.Parse()

	logCfg := logging.DefaultConfig()
	logCfg.Format = "console"
	logging.Init(logCfg)

	http.HandleFunc("/asr", serveSession)
	log.Info().Str("addr", *addr).Msg("mock recognizer listening")
	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatal().Err(err).Msg("listen failed")
	}
}

func serveSession(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	defer ws.Close()
	log.Info().Str("remote", ws.RemoteAddr().String()).Msg("client connected")

	sendInfo(ws, protocol.InfoReady)

	var (
		listening    bool
		frames       int
		utteranceIdx int
		partialIdx   int
	)

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			log.Info().Err(err).Msg("client disconnected")
			return
		}

		switch msgType {
		case websocket.TextMessage:
			var ctrl protocol.ControlMessage
			if err := json.Unmarshal(data, &ctrl); err != nil {
				sendError(ws, "malformed control message")
				continue
			}
			switch ctrl.Type {
			case protocol.ControlStart:
				listening = true
				frames, partialIdx = 0, 0
				log.Info().Int("sampleRate", ctrl.SampleRate).Msg("session started")
				sendInfo(ws, protocol.InfoSessionStarted)
			case protocol.ControlStop:
				listening = false
				log.Info().Msg("session finished")
				sendInfo(ws, protocol.InfoSessionFinished)
			default:
				sendError(ws, "unknown control type "+ctrl.Type)
			}

		case websocket.BinaryMessage:
			if !listening {
				continue
			}
			frames++
			if frames%framesPerStep != 0 {
				continue
			}
			u := utterances[utteranceIdx%len(utterances)]
			if partialIdx < len(u.partials) {
				send(ws, protocol.Event{Type: protocol.EventPartial, Text: u.partials[partialIdx]})
				partialIdx++
				continue
			}
			send(ws, protocol.Event{Type: protocol.EventFinal, Text: u.final, IsFinal: true})
			utteranceIdx++
			partialIdx = 0
		}
	}
}

func send(ws *websocket.Conn, ev protocol.Event) {
	if err := ws.WriteJSON(ev); err != nil {
		log.Warn().Err(err).Msg("write failed")
		return
	}
	// Pace transcripts so the client renders them progressively.
	time.Sleep(20 * time.Millisecond)
}

func sendInfo(ws *websocket.Conn, message string) {
	send(ws, protocol.Event{Type: protocol.EventInfo, Message: message})
}

func sendError(ws *websocket.Conn, message string) {
	send(ws, protocol.Event{Type: protocol.EventError, Message: message})
}
