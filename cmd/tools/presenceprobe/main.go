// presenceprobe logs a throwaway user into a running backend, streams
// position updates over the presence websocket, and prints the diffs it
// receives back. Useful for eyeballing broadcast latency and reaper
// behavior without a browser client.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "backend host:port")
	user := flag.String("user", "probe", "username to log in as")
	interval := flag.Duration("interval", 200*time.Millisecond, "update interval (client-side throttle)")
	flag.Parse()

	token, userID, err := login(*addr, *user)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}
	log.Printf("logged in as %s (user=%s)", *user, userID)

	wsURL := url.URL{
		Scheme:   "ws",
		Host:     *addr,
		Path:     "/api/presence/ws",
		RawQuery: "token=" + url.QueryEscape(token),
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		log.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	go func() {
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				log.Printf("read error: %v", err)
				return
			}
			fmt.Printf("<- %s\n", bytes.TrimSpace(frame))
		}
	}()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-interrupt:
			log.Println("interrupted, closing")
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			// Walk a slow circle around the origin.
			t := time.Since(start).Seconds() / 4
			update := map[string]any{
				"type": "state",
				"data": map[string]any{
					"rotation": map[string]float64{"x": 0, "y": t},
					"position": map[string]float64{
						"x": 3 * math.Cos(t),
						"y": 0,
						"z": 3 * math.Sin(t),
					},
				},
			}
			if err := conn.WriteJSON(update); err != nil {
				log.Fatalf("write failed: %v", err)
			}
		}
	}
}

func login(addr, username string) (token, userID string, err error) {
	body, _ := json.Marshal(map[string]string{"username": username})
	resp, err := http.Post("http://"+addr+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var session struct {
		Token  string `json:"token"`
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", "", err
	}
	return session.Token, session.UserID, nil
}
