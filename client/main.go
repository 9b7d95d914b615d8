package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mahaj/academy-chat/pkg/model"
	"github.com/mahaj/academy-chat/pkg/room"
)

type LoginResponse struct {
	Token string `json:"token"`
}

func login(apiAddr, userID, role string) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{
		"userId": userID,
		"email":  userID + "@academy.local",
		"role":   role,
	})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", string(body))
	}

	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", err
	}

	return loginResp.Token, nil
}

func send(c *websocket.Conn, event model.EventName, payload any) error {
	env, err := model.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	return c.WriteJSON(env)
}

// render prints one server event.
func render(env model.Envelope) {
	switch env.Event {
	case model.EventNewMessage:
		var msg model.ChatMessage
		if env.Decode(&msg) == nil {
			if msg.MessageType == model.TypeFile {
				fmt.Printf("\r%s shared %s %s\n> ", msg.SenderID, msg.FileURL, msg.Content)
			} else {
				fmt.Printf("\r%s: %s\n> ", msg.SenderID, msg.Content)
			}
		}
	case model.EventUserTyping:
		var p model.TypingPayload
		if env.Decode(&p) == nil {
			fmt.Printf("\rUser %s is typing...      \n> ", p.UserID)
		}
	case model.EventUserStoppedTyping:
	case model.EventPresenceUpdate:
		var st model.PresenceState
		if env.Decode(&st) == nil {
			fmt.Printf("\r* %s is %s\n> ", st.UserID, st.Status)
		}
	case model.EventNotification:
		var n model.Notification
		if env.Decode(&n) == nil {
			fmt.Printf("\r[%s] %s %s\n> ", n.Type, n.Title, n.Message)
		}
	case model.EventHistory:
		var h model.HistoryPayload
		if env.Decode(&h) == nil {
			for _, m := range h.Messages {
				fmt.Printf("\r  %s %s: %s\n", m.CreatedAt.Local().Format("15:04"), m.SenderID, m.Content)
			}
			fmt.Print("> ")
		}
	case model.EventError:
		var e model.ErrorPayload
		if env.Decode(&e) == nil {
			fmt.Printf("\r! %s (%s)\n> ", e.Message, e.Code)
		}
	default:
		fmt.Printf("\r%s %s\n> ", env.Event, env.Data)
	}
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userID := flag.String("user", "user1", "user id")
	role := flag.String("role", "customer", "role: admin, coach or customer")
	batchID := flag.String("batch", "", "batch id to chat in")
	dmUser := flag.String("dm", "", "user id to dm (overrides -batch)")
	flag.Parse()

	var roomID string
	switch {
	case *dmUser != "":
		roomID = room.DirectID(*userID, *dmUser)
	case *batchID != "":
		roomID = room.BatchID(*batchID)
	default:
		log.Fatal("one of -dm or -batch is required")
	}

	// 1. Login to get token
	log.Printf("Logging in as %s...", *userID)
	token, err := login(*apiAddr, *userID, *role)
	if err != nil {
		log.Fatal("Login failed:", err)
	}

	// 2. Connect to WebSocket with token
	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	log.Printf("connecting to %s", u.String())

	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	if err := send(c, model.EventJoinRoom, model.RoomRequest{RoomID: roomID}); err != nil {
		log.Fatal("join:", err)
	}

	done := make(chan struct{})

	// 3. Start goroutine to read events
	go func() {
		defer close(done)
		for {
			var env model.Envelope
			if err := c.ReadJSON(&env); err != nil {
				log.Println("read:", err)
				return
			}
			if env.Event == model.EventRoomJoined {
				var ack model.RoomAck
				if env.Decode(&ack) == nil && !ack.Success {
					log.Printf("Not allowed into %s", ack.RoomID)
					return
				}
				fmt.Printf("\rJoined %s. Commands: /typing /stop /read /history /file <url> /quit\n> ", ack.RoomID)
				continue
			}
			render(env)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	// 4. Read from stdin and send events
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			var err error
			switch {
			case text == "":
			case text == "/quit":
				interrupt <- os.Interrupt
				return
			case text == "/typing":
				err = send(c, model.EventTypingStart, model.RoomRequest{RoomID: roomID})
			case text == "/stop":
				err = send(c, model.EventTypingStop, model.RoomRequest{RoomID: roomID})
			case text == "/read":
				err = send(c, model.EventMarkRead, model.RoomRequest{RoomID: roomID})
			case text == "/history":
				err = send(c, model.EventHistory, model.HistoryRequest{RoomID: roomID, Limit: 20})
			case strings.HasPrefix(text, "/file "):
				err = send(c, model.EventSendMessage, model.SendMessageRequest{
					RoomID: roomID, MessageType: string(model.TypeFile), FileURL: strings.TrimPrefix(text, "/file "),
				})
			default:
				err = send(c, model.EventSendMessage, model.SendMessageRequest{RoomID: roomID, Content: text})
			}
			if err != nil {
				log.Println("write:", err)
				return
			}
			fmt.Print("> ")
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("interrupt")

			// Cleanly close the connection by sending a close message and then
			// waiting (with timeout) for the server to close the connection.
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("write close:", err)
				return
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
