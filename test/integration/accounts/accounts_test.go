// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

//go:build integration

package accounts_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

const alicePassword = "correct horse battery"

func postJSON(path string, body any) (*http.Response, map[string]any) {
	data, err := json.Marshal(body)
	Expect(err).NotTo(HaveOccurred())
	resp, err := http.Post(env.server.URL+path, "application/json", bytes.NewReader(data))
	Expect(err).NotTo(HaveOccurred())
	return resp, decode(resp)
}

func postForm(path string, values url.Values) (*http.Response, map[string]any) {
	resp, err := http.PostForm(env.server.URL+path, values)
	Expect(err).NotTo(HaveOccurred())
	return resp, decode(resp)
}

func whoami(token string) (*http.Response, map[string]any) {
	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/users/me", nil)
	Expect(err).NotTo(HaveOccurred())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	return resp, decode(resp)
}

func decode(resp *http.Response) map[string]any {
	defer resp.Body.Close() //nolint:errcheck // test body
	body := map[string]any{}
	Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
	return body
}

func register(username, email string) (*http.Response, map[string]any) {
	return postJSON("/auth/register", map[string]string{
		"username": username,
		"email":    email,
		"password": alicePassword,
	})
}

func login(identifier string) string {
	resp, tok := postForm("/auth/login", url.Values{"username": {identifier}, "password": {alicePassword}})
	Expect(resp.StatusCode).To(Equal(http.StatusOK))
	return tok["access_token"].(string)
}

var _ = Describe("Account lifecycle", func() {
	BeforeEach(func() {
		resetAccounts()
	})

	It("registers, logs in by username and email, and resolves whoami", func() {
		resp, created := register("alice", "alice@example.com")
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		Expect(created["username"]).To(Equal("alice"))
		Expect(created["id"]).NotTo(BeEmpty())
		Expect(created).NotTo(HaveKey("password"))
		Expect(created).NotTo(HaveKey("password_hash"))

		resp, tok := postForm("/auth/login", url.Values{"username": {"alice"}, "password": {alicePassword}})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(tok["token_type"]).To(Equal("bearer"))

		resp, me := whoami(tok["access_token"].(string))
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(me["id"]).To(Equal(created["id"]))
		Expect(me["email"]).To(Equal("alice@example.com"))

		resp, tok = postJSON("/auth/login", map[string]string{"username": "alice@example.com", "password": alicePassword})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		resp, me = whoami(tok["access_token"].(string))
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(me["username"]).To(Equal("alice"))
	})

	Describe("uniqueness", func() {
		BeforeEach(func() {
			resp, _ := register("alice", "alice@example.com")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		})

		It("rejects a taken username", func() {
			resp, body := register("alice", "other@example.com")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(body["detail"]).To(Equal("Username already registered"))
		})

		It("rejects a taken email", func() {
			resp, _ := register("alice2", "alice@example.com")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	It("creates exactly one account under concurrent registration", func() {
		const attempts = 8
		var wg sync.WaitGroup
		codes := make(chan int, attempts)
		data := `{"username":"race","email":"race@example.com","password":"` + alicePassword + `"}`
		for range attempts {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				resp, err := http.Post(env.server.URL+"/auth/register", "application/json", strings.NewReader(data))
				Expect(err).NotTo(HaveOccurred())
				_ = resp.Body.Close()
				codes <- resp.StatusCode
			}()
		}
		wg.Wait()
		close(codes)

		created := 0
		for code := range codes {
			if code == http.StatusCreated {
				created++
				continue
			}
			Expect(code).To(Equal(http.StatusBadRequest))
		}
		Expect(created).To(Equal(1))
	})

	Describe("authentication failures", func() {
		BeforeEach(func() {
			resp, _ := register("alice", "alice@example.com")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		})

		It("answers a wrong password and an unknown user identically", func() {
			resp, wrong := postForm("/auth/login", url.Values{"username": {"alice"}, "password": {"wrong password"}})
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))

			resp, unknown := postForm("/auth/login", url.Values{"username": {"nobody"}, "password": {alicePassword}})
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(unknown).To(Equal(wrong))
		})

		It("rejects a tampered token", func() {
			resp, _ := whoami(login("alice") + "x")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(Equal("Bearer"))
		})

		It("rejects a token whose account was deleted", func() {
			token := login("alice")
			resetAccounts()

			resp, _ := whoami(token)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})
	})
})
