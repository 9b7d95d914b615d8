package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/mahaj/academy-chat/pkg/room"
)

type LoginResponse struct {
	Token string `json:"token"`
}

func login(apiAddr, userID, role string) string {
	reqBody, _ := json.Marshal(map[string]string{"userId": userID, "role": role})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("login failed with %d; the API only serves /login with APP_ENV=development", resp.StatusCode)
	}

	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		log.Fatal(err)
	}
	return loginResp.Token
}

func call(method, url, token string, body any) {
	var buf io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		buf = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, url, buf)
	req.Header.Add("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	log.Printf("%s %s -> %d %s", method, url, resp.StatusCode, bytes.TrimSpace(out))
}

func main() {
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userA := flag.String("a", "userA", "first user")
	userB := flag.String("b", "userB", "second user")
	flag.Parse()

	token := login(*apiAddr, *userA, "customer")
	fmt.Printf("Token: %s...\n", token[:10])
	dm := room.DirectID(*userA, *userB)

	call(http.MethodGet, *apiAddr+"/history?room_id="+dm, token, nil)
	call(http.MethodGet, *apiAddr+"/rooms/"+dm+"/online", token, nil)
	call(http.MethodGet, *apiAddr+"/presence/"+*userB, token, nil)
	call(http.MethodGet, *apiAddr+"/conversations", token, nil)
	call(http.MethodPost, *apiAddr+"/rooms/read", token, map[string]string{"roomId": dm})

	admin := login(*apiAddr, "admin", "admin")
	call(http.MethodPost, *apiAddr+"/notify", admin, map[string]string{
		"userId": *userA, "type": "info", "title": "verify_api", "message": "hello from the API",
	})
}
