package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"staffHub/internal/access"
	"staffHub/internal/auth"
	"staffHub/internal/config"
	"staffHub/internal/database"
	"staffHub/internal/documents"
	"staffHub/internal/mirror"
	"staffHub/internal/placement"
	"staffHub/internal/storage"
	"staffHub/internal/tasks"
)

type recordingQueue struct {
	tasks []*asynq.Task
}

func (q *recordingQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	db     *gorm.DB
	auth   *auth.AuthService
	mirror *mirror.Memory
	local  *storage.LocalStore
	queue  *recordingQueue
	redis  *redis.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenInMemory(t.Name())
	require.NoError(t, err)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	priv := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pub := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	authService, err := auth.NewAuthService(priv, pub, time.Minute, time.Hour)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	cfg := &config.Config{
		API:  config.APIConfig{MetricsToken: "metrics-secret"},
		Auth: config.AuthConfig{LoginRateLimitPerHour: 100, LoginLockThreshold: 5, LoginLockTTL: time.Minute},
		Upload: config.UploadConfig{
			ImageExtensions:    []string{"jpg", "jpeg", "png", "gif"},
			DocumentExtensions: []string{"pdf", "doc", "docx", "jpg", "jpeg", "png"},
			MaxBytes:           1 << 20,
		},
	}

	local, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	cfg.Upload.Root = local.Root()
	m := mirror.NewMemory("root")
	queue := &recordingQueue{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	docs := documents.NewService(db, placement.NewPolicy(cfg.Upload), local, m, documents.Options{
		Queue:    queue,
		MaxBytes: cfg.Upload.MaxBytes,
		Logger:   logger,
	})

	router := NewRouter(cfg, logger)
	RegisterRoutes(router, Dependencies{
		Config:      cfg,
		DB:          db,
		AuthService: authService,
		Credentials: auth.NewCredentialStore(db, logger),
		Redis:       redisClient,
		Documents:   docs,
		Gate:        access.NewGate(m, false, logger),
		Queue:       queue,
		Logger:      logger,
	})

	return &testServer{t: t, router: router, db: db, auth: authService, mirror: m, local: local, queue: queue, redis: redisClient}
}

func (s *testServer) createUser(username string, admin bool, profileID *uint, code string) (database.User, string) {
	s.t.Helper()
	hashed, err := auth.HashPassword("password123")
	require.NoError(s.t, err)
	user := database.User{Username: username, PasswordHash: hashed, IsAdmin: admin, ProfileID: profileID, EmployeeCode: code}
	require.NoError(s.t, s.db.Create(&user).Error)
	pair, err := s.auth.GenerateTokenPair(auth.Identity{UserID: user.ID, IsAdmin: admin})
	require.NoError(s.t, err)
	return user, pair.AccessToken
}

func (s *testServer) createProfile(code, first, last, email string) database.Profile {
	s.t.Helper()
	p := database.Profile{FirstName: first, LastName: last, Email: email, Position: "Engineer", Department: "R&D"}
	if code != "" {
		p.EmployeeCode = &code
	}
	p.StorageKey = placement.StorageKey(code, first, last)
	require.NoError(s.t, s.db.Create(&p).Error)
	return p
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) upload(path, token, field, filename string, content []byte, form map[string]string) *httptest.ResponseRecorder {
	s.t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range form {
		require.NoError(s.t, writer.WriteField(k, v))
	}
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(s.t, err)
	_, err = part.Write(content)
	require.NoError(s.t, err)
	require.NoError(s.t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/v1/auth/register", "", gin.H{"username": "jane", "password": "password123", "confirm_password": "nope12345"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/v1/auth/register", "", gin.H{"username": "jane", "password": "password123", "confirm_password": "password123"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/v1/auth/register", "", gin.H{"username": "jane", "password": "password123", "confirm_password": "password123"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"username": "jane", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"username": "jane", "password": "password123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[tokenResponse](t, w)
	assert.NotEmpty(t, resp.AccessToken)
	assert.False(t, resp.IsAdmin)

	w = s.do(http.MethodGet, "/v1/dashboard", resp.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]any](t, w)["needs_onboarding"])
}

func TestPasswordChangeGate(t *testing.T) {
	s := newTestServer(t)
	user, _ := s.createUser("boss", true, nil, "")
	pair, err := s.auth.GenerateTokenPair(auth.Identity{UserID: user.ID, IsAdmin: true, MustChangePassword: true})
	require.NoError(t, err)

	w := s.do(http.MethodGet, "/v1/dashboard", pair.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminProfileCRUD(t *testing.T) {
	s := newTestServer(t)
	_, adminToken := s.createUser("admin", true, nil, "")
	_, userToken := s.createUser("emp", false, nil, "")

	body := gin.H{
		"employee_code": "EMP1",
		"first_name":    "Jane",
		"last_name":     "Doe",
		"email":         "jane@example.com",
		"department":    "Engineering",
		"position":      "Backend Engineer",
		"hire_date":     "2023-04-01",
		"salary":        5000,
		"educations": []gin.H{
			{"institution": "MIT", "degree": "BSc", "field_of_study": "CS", "start_date": "2015-09-01", "end_date": "2019-06-30"},
		},
	}
	w := s.do(http.MethodPost, "/v1/profiles", userToken, body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/v1/profiles", adminToken, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[profileResponse](t, w)
	assert.Equal(t, "EMP1_Jane_Doe", created.StorageKey)
	require.Len(t, created.Educations, 1)

	w = s.do(http.MethodPost, "/v1/profiles", adminToken, body)
	assert.Equal(t, http.StatusConflict, w.Code)

	body["first_name"] = "Janet"
	body["educations"] = []gin.H{}
	w = s.do(http.MethodPut, "/v1/profiles/"+strconv.Itoa(int(created.ID)), adminToken, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[profileResponse](t, w)
	assert.Equal(t, "Janet", updated.FirstName)
	assert.Equal(t, "EMP1_Jane_Doe", updated.StorageKey)
	assert.Empty(t, updated.Educations)

	// 非管理员看不到薪资。
	w = s.do(http.MethodGet, "/v1/profiles/"+strconv.Itoa(int(created.ID)), userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode[profileResponse](t, w).Salary)

	w = s.do(http.MethodGet, "/v1/profiles/search?query=backend", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]profileResponse](t, w), 1)

	w = s.do(http.MethodGet, "/v1/positions?q=eng", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Backend Engineer"}, decode[[]string](t, w))

	w = s.do(http.MethodDelete, "/v1/profiles/"+strconv.Itoa(int(created.ID)), adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, s.queue.tasks, 1)
	assert.Equal(t, tasks.TypePurgeProfile, s.queue.tasks[0].Type())

	var edus int64
	require.NoError(t, s.db.Model(&database.Education{}).Count(&edus).Error)
	assert.Zero(t, edus)
}

func TestDepartments(t *testing.T) {
	s := newTestServer(t)
	_, adminToken := s.createUser("admin", true, nil, "")
	s.createProfile("E1", "Ann", "Lee", "ann@example.com")

	w := s.do(http.MethodPost, "/v1/departments", adminToken, gin.H{"name": "Finance"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = s.do(http.MethodPost, "/v1/departments", adminToken, gin.H{"name": "R&D"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodGet, "/v1/departments", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []departmentCount{{Name: "Finance", Count: 0}, {Name: "R&D", Count: 1}}, decode[[]departmentCount](t, w))

	w = s.do(http.MethodGet, "/v1/dashboard", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	dash := decode[map[string]any](t, w)
	assert.Equal(t, float64(1), dash["total_employees"])
}

func TestAdminCreateUserLinksExistingProfile(t *testing.T) {
	s := newTestServer(t)
	_, adminToken := s.createUser("admin", true, nil, "")
	p := s.createProfile("EMP7", "Sam", "Hill", "sam@example.com")

	w := s.do(http.MethodPost, "/v1/admin/users", adminToken, gin.H{"username": "sam", "password": "password123", "employee_code": "EMP7"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[userResponse](t, w)
	require.NotNil(t, resp.ProfileID)
	assert.Equal(t, p.ID, *resp.ProfileID)
	assert.True(t, resp.MustChangePassword)

	w = s.do(http.MethodPost, "/v1/admin/users", adminToken, gin.H{"username": "sam2", "password": "password123", "employee_code": "EMP7"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestOnboardingClaimAndCreate(t *testing.T) {
	s := newTestServer(t)
	existing := s.createProfile("EMP2", "Lee", "Park", "lee@example.com")
	_, claimant := s.createUser("lee", false, nil, "EMP2")
	_, stranger := s.createUser("mallory", false, nil, "")

	w := s.do(http.MethodPost, "/v1/onboarding", stranger, gin.H{"employee_code": "EMP2", "first_name": "M", "last_name": "X", "email": "m@example.com"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/v1/onboarding", claimant, gin.H{"employee_code": "EMP2", "first_name": "Lee", "last_name": "Park", "email": "other@example.com", "phone": "555"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	claimed := decode[profileResponse](t, w)
	assert.Equal(t, existing.ID, claimed.ID)
	assert.Equal(t, "555", claimed.Phone)

	w = s.do(http.MethodPost, "/v1/onboarding", claimant, gin.H{"first_name": "Lee", "last_name": "Park", "email": "lee2@example.com"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/v1/onboarding", stranger, gin.H{"employee_code": "NEW9", "first_name": "Mal", "last_name": "Lory", "email": "mal@example.com", "salary": 99999})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[profileResponse](t, w)
	assert.Equal(t, "NEW9_Mal_Lory", created.StorageKey)

	var p database.Profile
	require.NoError(t, s.db.First(&p, created.ID).Error)
	assert.Zero(t, p.Salary)

	w = s.do(http.MethodPut, "/v1/onboarding", stranger, gin.H{"current_address": "1 Main St"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "1 Main St", decode[profileResponse](t, w).CurrentAddress)
}

func TestOnboardingCollidingCodeGetsOwnStorageKey(t *testing.T) {
	s := newTestServer(t)
	jane := s.createProfile("EMP1", "Jane", "Doe", "jane@example.com")
	_, janeToken := s.createUser("jane", false, &jane.ID, "EMP1")
	_, mallory := s.createUser("mallory", false, nil, "")

	w := s.upload("/v1/profiles/"+strconv.Itoa(int(jane.ID))+"/documents", janeToken, "file", "offer.pdf", []byte("%PDF-secret"), map[string]string{"document_type": "offer_letter"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var uploaded struct {
		Document documents.DocumentView `json:"document"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &uploaded))

	// "EMP1." 清洗后与 EMP1 同名。
	w = s.do(http.MethodPost, "/v1/onboarding", mallory, gin.H{"employee_code": "EMP1.", "first_name": "Jane", "last_name": "Doe", "email": "mallory@example.com"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[profileResponse](t, w)
	assert.Equal(t, "EMP1_Jane_Doe-2", created.StorageKey)

	w = s.do(http.MethodGet, "/v1/files/"+uploaded.Document.LocalPath, mallory, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	_, adminToken := s.createUser("admin", true, nil, "")
	w = s.do(http.MethodDelete, "/v1/profiles/"+strconv.Itoa(int(created.ID)), adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, s.queue.tasks, 1)
	var purge tasks.PurgeProfilePayload
	require.NoError(t, json.Unmarshal(s.queue.tasks[0].Payload(), &purge))
	assert.Equal(t, "EMP1_Jane_Doe-2", purge.StorageKey)
	assert.True(t, s.local.Exists(uploaded.Document.LocalPath))
}

func TestDocumentUploadAndFileAccess(t *testing.T) {
	s := newTestServer(t)
	jane := s.createProfile("EMP1", "Jane", "Doe", "jane@example.com")
	bob := s.createProfile("EMP2", "Bob", "Roe", "bob@example.com")
	_, janeToken := s.createUser("jane", false, &jane.ID, "EMP1")
	_, bobToken := s.createUser("bob", false, &bob.ID, "EMP2")
	_, adminToken := s.createUser("admin", true, nil, "")

	profilePath := "/v1/profiles/" + strconv.Itoa(int(jane.ID))

	w := s.upload(profilePath+"/documents", bobToken, "file", "resume.pdf", []byte("%PDF"), map[string]string{"document_type": "certificate"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.upload(profilePath+"/documents", janeToken, "file", "virus.exe", []byte("MZ"), map[string]string{"document_type": "certificate"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.upload(profilePath+"/documents", janeToken, "file", "resume.pdf", []byte("%PDF-1.4"), map[string]string{"document_type": "certificate"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var uploaded struct {
		Document documents.DocumentView `json:"document"`
		Warnings []string               `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &uploaded))
	assert.Regexp(t, `^documents/EMP1_Jane_Doe/certificate_[0-9a-f]{32}_resume\.pdf$`, uploaded.Document.LocalPath)
	require.NotEmpty(t, uploaded.Document.RemoteID)

	local := "/v1/files/" + uploaded.Document.LocalPath
	w = s.do(http.MethodGet, local, janeToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF-1.4", w.Body.String())

	w = s.do(http.MethodGet, local, adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, local, bobToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/v1/files/documents/../../etc/passwd", janeToken, nil)
	assert.NotEqual(t, http.StatusOK, w.Code)

	remote := "/v1/files/" + uploaded.Document.Ref
	w = s.do(http.MethodGet, remote, janeToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	links := decode[map[string]string](t, w)
	assert.NotEmpty(t, links["view_url"])
	assert.NotEmpty(t, links["download_url"])

	w = s.do(http.MethodGet, remote, bobToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	require.NoError(t, s.db.Model(&bob).Update("remote_folder_id", "root/EMP2_Bob_Roe").Error)
	w = s.do(http.MethodGet, remote, bobToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// 成员校验失败时拒绝访问并返回 warning。
	s.mirror.Fail("is_member", assert.AnError)
	w = s.do(http.MethodGet, remote, bobToken, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, decode[map[string]string](t, w)["warning"], "remote storage unavailable")

	// 双份存放的文件在降级时按本地目录判定。
	w = s.do(http.MethodGet, remote, janeToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, decode[map[string]string](t, w)["warning"], "local ownership")
	s.mirror.Fail("is_member", nil)

	w = s.do(http.MethodGet, profilePath+"/documents", janeToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]documents.DocumentView](t, w), 1)

	w = s.do(http.MethodDelete, "/v1/documents/"+strconv.Itoa(int(uploaded.Document.ID)), bobToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(http.MethodDelete, "/v1/documents/"+strconv.Itoa(int(uploaded.Document.ID)), janeToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, s.local.Exists(uploaded.Document.LocalPath))
}

func TestProfilePictureUpload(t *testing.T) {
	s := newTestServer(t)
	jane := s.createProfile("EMP1", "Jane", "Doe", "jane@example.com")
	_, janeToken := s.createUser("jane", false, &jane.ID, "EMP1")

	w := s.upload("/v1/profiles/"+strconv.Itoa(int(jane.ID))+"/picture", janeToken, "file", "me.png", []byte("png"), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var p database.Profile
	require.NoError(t, s.db.First(&p, jane.ID).Error)
	assert.Regexp(t, `^profile_pictures/EMP1_Jane_Doe/[0-9a-f]{32}_me\.png$`, p.ProfilePicture)
	require.Len(t, s.queue.tasks, 1)
	assert.Equal(t, tasks.TypeThumbnail, s.queue.tasks[0].Type())
}

func TestMetricsRequiresToken(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("X-Metrics-Token", "metrics-secret")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebsocketForwardsNotifications(t *testing.T) {
	s := newTestServer(t)
	user, token := s.createUser("jane", false, nil, "")

	srv := httptest.NewServer(s.router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteJSON(wsFrame{Type: "auth", Token: token}))
	var ack wsFrame
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "auth_ok", ack.Type)
	assert.Equal(t, user.ID, ack.UserID)

	payload := `{"event":"thumbnail","status":"completed","profile_id":1}`
	require.Eventually(t, func() bool {
		n, err := s.redis.Publish(context.Background(), tasks.NotifyChannel(user.ID), payload).Result()
		return err == nil && n == 1
	}, 2*time.Second, 20*time.Millisecond)

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, payload, string(msg))
}

func TestWebsocketRejectsRefreshToken(t *testing.T) {
	s := newTestServer(t)
	user, _ := s.createUser("jane", false, nil, "")
	pair, err := s.auth.GenerateTokenPair(auth.Identity{UserID: user.ID})
	require.NoError(t, err)

	srv := httptest.NewServer(s.router)
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteJSON(wsFrame{Type: "auth", Token: pair.RefreshToken}))
	var frame wsFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, "access token required", frame.Error)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func refreshCookie(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == refreshTokenCookieName {
			return c.Value
		}
	}
	t.Fatalf("no %s cookie in response", refreshTokenCookieName)
	return ""
}

func TestRefreshRotationAndLogout(t *testing.T) {
	s := newTestServer(t)
	s.createUser("jane", false, nil, "")

	w := s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"username": "jane", "password": "password123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := refreshCookie(t, w)

	w = s.do(http.MethodPost, "/v1/auth/refresh", "", gin.H{"refresh_token": first})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	second := refreshCookie(t, w)
	access := decode[tokenResponse](t, w).AccessToken

	// 旧刷新令牌已轮换失效。
	w = s.do(http.MethodPost, "/v1/auth/refresh", "", gin.H{"refresh_token": first})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/v1/auth/refresh", "", gin.H{"refresh_token": access})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/v1/auth/logout", access, gin.H{"refresh_token": second})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(http.MethodPost, "/v1/auth/refresh", "", gin.H{"refresh_token": second})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginLockout(t *testing.T) {
	s := newTestServer(t)
	s.createUser("jane", false, nil, "")

	for i := 0; i < 5; i++ {
		w := s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"username": "jane", "password": "wrong-password"})
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"username": "Jane", "password": "password123"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "locked")
}

func TestChangePasswordClearsFlag(t *testing.T) {
	s := newTestServer(t)
	user, _ := s.createUser("boss", true, nil, "")
	require.NoError(t, s.db.Model(&user).Update("must_change_password", true).Error)
	pair, err := s.auth.GenerateTokenPair(auth.Identity{UserID: user.ID, IsAdmin: true, MustChangePassword: true})
	require.NoError(t, err)

	body := gin.H{"current_password": "password123", "new_password": "password123", "confirm_password": "password123"}
	w := s.do(http.MethodPost, "/v1/auth/change-password", pair.AccessToken, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body = gin.H{"current_password": "password123", "new_password": "n3w-password", "confirm_password": "n3w-password"}
	w = s.do(http.MethodPost, "/v1/auth/change-password", pair.AccessToken, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[tokenResponse](t, w)
	assert.False(t, resp.MustChangePassword)

	w = s.do(http.MethodGet, "/v1/dashboard", resp.AccessToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"username": "boss", "password": "n3w-password"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestFileSourceLabel(t *testing.T) {
	assert.Equal(t, "remote", fileSource("drive:root/EMP1_Jane_Doe/a.pdf"))
	assert.Equal(t, "documents", fileSource("documents/EMP1_Jane_Doe/certificate_x_a.pdf"))
	assert.Equal(t, "profile_pictures", fileSource("profile_pictures/EMP1_Jane_Doe/me.png"))
	assert.Equal(t, "invalid", fileSource("../../etc/passwd"))
}
