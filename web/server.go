// Package web serves the chat operations as a poll based JSON API over
// HTTP.
package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/mqy/minichat/auth"
	"github.com/mqy/minichat/chat"
	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/errs"
)

const (
	RequestIDHeader = "X-Request-Id"

	maxRequestBytes = 64 << 10
)

// ChatAPI is the operation surface served over HTTP, implemented by
// *chat.Service.
type ChatAPI interface {
	Register(ctx context.Context, username, password string) error
	Login(ctx context.Context, origin, username, password string) (*chat.Session, error)
	StartConversation(ctx context.Context, id auth.Identity, peer string) (string, error)
	SendMessage(ctx context.Context, id auth.Identity, convID, body string) (int, error)
	GetMessages(ctx context.Context, id auth.Identity, convID string) ([]*chatstore.Message, error)
	MarkRead(ctx context.Context, id auth.Identity, convID string, messageID int) error
	ListConversations(ctx context.Context, id auth.Identity) ([]string, error)
}

type Options struct {
	// TrustProxy makes X-Real-IP and X-Forwarded-For decide the client
	// origin. Enable only behind a proxy that sets them.
	TrustProxy bool
	// SecureCookie marks the session cookie as https only.
	SecureCookie bool
}

type Server struct {
	api        ChatAPI
	authClient auth.Client
	opts       Options
}

func NewServer(api ChatAPI, authClient auth.Client, opts Options) *Server {
	return &Server{api: api, authClient: authClient, opts: opts}
}

type apiFunc func(w http.ResponseWriter, r *http.Request) (interface{}, error)

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	s.handle(mux, http.MethodPost, "/register", s.register)
	s.handle(mux, http.MethodPost, "/login", s.login)
	s.handle(mux, http.MethodGet, "/getChats", s.getChats)
	s.handle(mux, http.MethodPost, "/startMessage", s.startMessage)
	s.handle(mux, http.MethodPost, "/sendMessage", s.sendMessage)
	s.handle(mux, http.MethodGet, "/getMessages", s.getMessages)
	s.handle(mux, http.MethodPost, "/markRead", s.markRead)
}

func (s *Server) handle(mux *http.ServeMux, method, path string, fn apiFunc) {
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := strings.ReplaceAll(uuid.New(), "-", "")
		w.Header().Set(RequestIDHeader, reqID)

		var status int
		if r.Method != method {
			w.Header().Set("Allow", method)
			status = http.StatusMethodNotAllowed
			writeJSON(w, status, &errorBody{Code: errs.CodeInvalidArgument, Params: []string{"method not allowed"}})
		} else if resp, err := fn(w, r); err != nil {
			status = writeError(w, r, err)
		} else {
			status = http.StatusOK
			writeJSON(w, status, resp)
		}

		requestsTotal.WithLabelValues(path, strconv.Itoa(status)).Inc()
		requestSeconds.WithLabelValues(path).Observe(time.Since(start).Seconds())
		glog.V(5).Infof("%s %s %s %d %v", reqID, r.Method, r.URL.Path, status, time.Since(start))
	})
}

type credentialsReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResp struct {
	Username  string    `json:"username"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type startMessageReq struct {
	Peer string `json:"peer"`
}

type chatIDResp struct {
	ChatID string `json:"chatId"`
}

type sendMessageReq struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
}

type sendMessageResp struct {
	MessageID int `json:"messageId"`
}

type markReadReq struct {
	ChatID    string `json:"chatId"`
	MessageID *int   `json:"messageId"`
}

type messageView struct {
	MessageID int       `json:"messageId"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sentAt"`
	ReadBy    []string  `json:"readBy"`
}

type getMessagesResp struct {
	ChatID   string         `json:"chatId"`
	Messages []*messageView `json:"messages"`
}

type getChatsResp struct {
	Chats []string `json:"chats"`
}

type okResp struct{}

func (s *Server) register(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	var req credentialsReq
	if err := decodeBody(w, r, &req); err != nil {
		return nil, err
	}
	if err := s.api.Register(r.Context(), req.Username, req.Password); err != nil {
		return nil, err
	}
	return okResp{}, nil
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	var req credentialsReq
	if err := decodeBody(w, r, &req); err != nil {
		return nil, err
	}

	sess, err := s.api.Login(r.Context(), s.remoteIP(r), req.Username, req.Password)
	if err != nil {
		return nil, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.opts.SecureCookie,
		SameSite: http.SameSiteStrictMode,
	})
	return &loginResp{Username: sess.Identity.Username, Token: sess.Token, ExpiresAt: sess.ExpiresAt}, nil
}

func (s *Server) getChats(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	id, err := s.authenticate(r)
	if err != nil {
		return nil, err
	}
	ids, err := s.api.ListConversations(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return &getChatsResp{Chats: ids}, nil
}

func (s *Server) startMessage(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	id, err := s.authenticate(r)
	if err != nil {
		return nil, err
	}
	var req startMessageReq
	if err := decodeBody(w, r, &req); err != nil {
		return nil, err
	}
	chatID, err := s.api.StartConversation(r.Context(), id, req.Peer)
	if err != nil {
		return nil, err
	}
	return &chatIDResp{ChatID: chatID}, nil
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	id, err := s.authenticate(r)
	if err != nil {
		return nil, err
	}
	var req sendMessageReq
	if err := decodeBody(w, r, &req); err != nil {
		return nil, err
	}
	messageID, err := s.api.SendMessage(r.Context(), id, req.ChatID, req.Message)
	if err != nil {
		return nil, err
	}
	return &sendMessageResp{MessageID: messageID}, nil
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	id, err := s.authenticate(r)
	if err != nil {
		return nil, err
	}
	chatID := r.URL.Query().Get("chatId")
	msgs, err := s.api.GetMessages(r.Context(), id, chatID)
	if err != nil {
		return nil, err
	}

	resp := &getMessagesResp{ChatID: chatID, Messages: make([]*messageView, 0, len(msgs))}
	for i, m := range msgs {
		readBy := m.ReadBy
		if readBy == nil {
			readBy = []string{}
		}
		resp.Messages = append(resp.Messages, &messageView{
			MessageID: i,
			Author:    m.Author,
			Body:      m.Body,
			SentAt:    m.SentAt,
			ReadBy:    readBy,
		})
	}
	return resp, nil
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	id, err := s.authenticate(r)
	if err != nil {
		return nil, err
	}
	var req markReadReq
	if err := decodeBody(w, r, &req); err != nil {
		return nil, err
	}
	if req.MessageID == nil {
		return nil, errs.InvalidArgument("messageId: required")
	}
	if err := s.api.MarkRead(r.Context(), id, req.ChatID, *req.MessageID); err != nil {
		return nil, err
	}
	return okResp{}, nil
}

func (s *Server) authenticate(r *http.Request) (auth.Identity, error) {
	id, err := s.authClient.Auth(r)
	if err != nil {
		glog.V(5).Infof("%s %s: authenticate error: %v", r.Method, r.URL.Path, err)
		if errs.CodeOf(err) != errs.CodeUnauthenticated {
			return auth.Identity{}, errs.Wrap(errs.CodeUnauthenticated, err, errs.ErrUnauthenticated.Params...)
		}
		return auth.Identity{}, err
	}
	return id, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		return errs.InvalidArgument("body: malformed json")
	}
	return nil
}

// remoteIP is the login rate limit origin.
func (s *Server) remoteIP(r *http.Request) string {
	var ip string
	if s.opts.TrustProxy {
		ip = strings.TrimSpace(r.Header.Get("X-Real-IP"))
		if ip == "" {
			if ips := r.Header.Get("X-Forwarded-For"); ips != "" {
				for _, x := range strings.Split(ips, ",") {
					if x = strings.TrimSpace(x); x != "" {
						ip = x
					}
				}
			}
		}
	}
	if ip == "" {
		var err error
		if ip, _, err = net.SplitHostPort(r.RemoteAddr); err != nil {
			ip = r.RemoteAddr
		}
	}
	return ip
}
