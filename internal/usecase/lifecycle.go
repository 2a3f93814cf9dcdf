package usecase

import (
	"log/slog"
	"sort"
	"sync"

	"content-key-service/internal/domain"
)

const defaultPlayerID = "default"

// SessionManager はプレイヤーごとに1つのライセンスセッションを管理する。
type SessionManager struct {
	deps SessionDeps

	mu       sync.Mutex
	sessions map[string]*LicenseSession
	players  map[string]string // playerID -> sessionID
}

// NewSessionManager は新しいSessionManagerを生成する。
func NewSessionManager(deps SessionDeps) *SessionManager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &SessionManager{
		deps:     deps,
		sessions: make(map[string]*LicenseSession),
		players:  make(map[string]string),
	}
}

// Load はアセットの読み込み開始時に呼ばれ、新しいセッションを紐づける。
// 同じプレイヤーの既存セッションは先に破棄する。
// アセットが保護されていない場合は ErrAssetNotProtected を返す。
func (m *SessionManager) Load(playerID string, asset domain.PlaybackAsset) (*LicenseSession, error) {
	if playerID == "" {
		playerID = defaultPlayerID
	}

	m.mu.Lock()
	var previous *LicenseSession
	if id, ok := m.players[playerID]; ok {
		previous = m.sessions[id]
		delete(m.sessions, id)
		delete(m.players, playerID)
	}
	var session *LicenseSession
	if asset.IsProtected() {
		session = newLicenseSession(playerID, asset, m.deps)
		m.sessions[session.ID()] = session
		m.players[playerID] = session.ID()
	}
	m.mu.Unlock()

	if previous != nil {
		previous.TearDown()
	}
	if session == nil {
		return nil, domain.ErrAssetNotProtected
	}

	m.deps.Logger.Info("license session loaded",
		"session_id", session.ID(),
		"player_id", playerID,
		"asset_id", asset.ID,
	)
	return session, nil
}

// Get は指定IDのセッションを返す。
func (m *SessionManager) Get(sessionID string) (*LicenseSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// Unload はセッションを破棄し、破棄時に未確定だったリクエスト数を返す。
func (m *SessionManager) Unload(sessionID string) (int, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
		if m.players[s.PlayerID()] == sessionID {
			delete(m.players, s.PlayerID())
		}
	}
	m.mu.Unlock()

	if !ok {
		return 0, domain.ErrSessionNotFound
	}
	return s.TearDown(), nil
}

// Sessions は管理中のセッションを生成順に返す。
func (m *SessionManager) Sessions() []*LicenseSession {
	m.mu.Lock()
	sessions := make([]*LicenseSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt().Before(sessions[j].CreatedAt())
	})
	return sessions
}

// Close は全セッションを破棄する。サーバー停止時に使う。
func (m *SessionManager) Close() int {
	m.mu.Lock()
	sessions := make([]*LicenseSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*LicenseSession)
	m.players = make(map[string]string)
	m.mu.Unlock()

	abandoned := 0
	for _, s := range sessions {
		abandoned += s.TearDown()
	}
	return abandoned
}
