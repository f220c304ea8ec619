package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core"
	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core/track"
	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core/user"
	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/storage/cache"
	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/storage/users"
)

type testLogger struct{}

func (testLogger) Debug(string, ...interface{}) {}
func (testLogger) Info(string, ...interface{})  {}
func (testLogger) Warn(string, ...interface{})  {}
func (testLogger) Error(string, ...interface{}) {}
func (testLogger) Fatal(string, ...interface{}) {}

type testEnv struct {
	conf     *core.Config
	server   Server
	usrSvc   *user.Service
	trackSvc *track.Service
}

func setup(t *testing.T) *testEnv {
	t.Helper()

	conf := &core.Config{
		TestMode:  true,
		Env:       "TEST",
		AppName:   "SkillLab",
		SecretKey: "test-secret-key",
	}
	conf.Server.JWTExpirationDelta = time.Hour
	conf.Server.JWTRefreshExpirationDelta = time.Hour
	conf.Remote.Timeout = time.Second

	logger := testLogger{}
	store := cache.NewMemory(1<<20, logger)

	validate := validator.New()
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	usrSvc := user.NewService(users.NewRepository(store, nil, logger, conf.Remote.Timeout), logger)
	trackSvc := track.NewService(store, nil, logger, conf)
	require.NoError(t, trackSvc.Start(context.Background()))
	t.Cleanup(trackSvc.Stop)

	server := NewServer(ServerDeps{
		Conf:       conf,
		Logger:     logger,
		UserSvc:    usrSvc,
		TrackSvc:   trackSvc,
		Validate:   validate,
		Translator: translator,
	})
	return &testEnv{conf: conf, server: server, usrSvc: usrSvc, trackSvc: trackSvc}
}

func (env *testEnv) createUser(t *testing.T, uname string, roles []string) user.User {
	t.Helper()
	usr, err := env.usrSvc.Create(user.NewUser{
		Name:            uname,
		Username:        uname,
		Password:        "V3ry.s3cret!",
		PasswordConfirm: "V3ry.s3cret!",
		Roles:           roles,
	})
	require.NoError(t, err)
	return usr
}

func (env *testEnv) token(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := GenerateToken(env.conf, GetUserClaims(env.conf, usr))
	require.NoError(t, err)
	return token
}

func (env *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestLogin(t *testing.T) {
	env := setup(t)
	env.createUser(t, "trainer4", []string{user.RoleTrainer})

	tests := []struct {
		name     string
		body     LoginRequest
		wantCode int
	}{
		{name: "valid", body: LoginRequest{Username: "trainer4", Password: "V3ry.s3cret!"}, wantCode: http.StatusOK},
		{name: "uppercase username", body: LoginRequest{Username: "TRAINER4", Password: "V3ry.s3cret!"}, wantCode: http.StatusOK},
		{name: "trailing space", body: LoginRequest{Username: "trainer4 ", Password: "V3ry.s3cret!"}, wantCode: http.StatusOK},
		{name: "wrong password", body: LoginRequest{Username: "trainer4", Password: "nope"}, wantCode: http.StatusBadRequest},
		{name: "unknown user", body: LoginRequest{Username: "ghost", Password: "V3ry.s3cret!"}, wantCode: http.StatusBadRequest},
		{name: "missing password", body: LoginRequest{Username: "trainer4"}, wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/users/login", "", tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode == http.StatusOK {
				var resp LoginResponse
				decodeInto(t, rec, &resp)
				assert.NotEmpty(t, resp.Token)
			}
		})
	}
}

func TestStudentEndpoints(t *testing.T) {
	env := setup(t)
	admin := env.createUser(t, "admin1", user.AllRoles)
	trainer := env.createUser(t, "trainer1", []string{user.RoleTrainer})
	nobody := env.createUser(t, "nobody1", nil)

	adminToken := env.token(t, admin)
	trainerToken := env.token(t, trainer)

	// groups are admin-managed
	rec := env.do(t, http.MethodPost, "/v1/groups", trainerToken, track.NewGroup{Year: 2, CurrentUnit: "MSK"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodPost, "/v1/groups", adminToken, track.NewGroup{Year: 2, CurrentUnit: "MSK"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var grp track.Group
	decodeInto(t, rec, &grp)

	newStudent := track.NewStudent{Name: "Amina K", StudentID: "SL2026001", Year: 2, GroupID: grp.ID}

	rec = env.do(t, http.MethodPost, "/v1/students", "", newStudent)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = env.do(t, http.MethodPost, "/v1/students", env.token(t, nobody), newStudent)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/students", trainerToken, newStudent)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var st track.Student
	decodeInto(t, rec, &st)
	assert.Equal(t, grp.ID, st.GroupID)

	// wrong year for the group surfaces as a validation error
	rec = env.do(t, http.MethodPost, "/v1/students", trainerToken,
		track.NewStudent{Name: "B", StudentID: "SL2026002", Year: 5, GroupID: grp.ID})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/students?group="+grp.ID, trainerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []track.Student
	decodeInto(t, rec, &list)
	require.Len(t, list, 1)

	rec = env.do(t, http.MethodGet, "/v1/students/"+st.ID, trainerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/v1/students/nope", trainerToken, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// deleting is admin-only
	rec = env.do(t, http.MethodDelete, "/v1/students/"+st.ID, trainerToken, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodDelete, "/v1/students/"+st.ID, adminToken, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/students", trainerToken, nil)
	decodeInto(t, rec, &list)
	assert.Empty(t, list)
}

func TestAttendanceEndpoints(t *testing.T) {
	env := setup(t)
	admin := env.createUser(t, "admin1", user.AllRoles)
	trainer := env.createUser(t, "trainer1", []string{user.RoleTrainer})
	adminToken := env.token(t, admin)
	trainerToken := env.token(t, trainer)

	rec := env.do(t, http.MethodPost, "/v1/groups", adminToken, track.NewGroup{Year: 2, CurrentUnit: "MSK"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var grp track.Group
	decodeInto(t, rec, &grp)

	rec = env.do(t, http.MethodPost, "/v1/students", trainerToken,
		track.NewStudent{Name: "Amina K", StudentID: "SL2026001", Year: 2, GroupID: grp.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	var st track.Student
	decodeInto(t, rec, &st)

	rec = env.do(t, http.MethodPost, "/v1/attendance", trainerToken,
		track.NewAttendance{StudentID: st.ID, Date: "2026-02-10", Status: track.StatusPresent, TrainerID: trainer.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var att track.AttendanceRecord
	decodeInto(t, rec, &att)
	assert.False(t, att.Synced)

	// malformed date is rejected up front
	rec = env.do(t, http.MethodPost, "/v1/attendance", trainerToken,
		track.NewAttendance{StudentID: st.ID, Date: "10/02/2026", Status: track.StatusPresent, TrainerID: trainer.ID})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/v1/attendance/"+att.ID, trainerToken,
		track.AttendanceUpdate{Status: track.StatusExcused})
	require.Equal(t, http.StatusOK, rec.Code)

	// without a remote store every write stays pending
	rec = env.do(t, http.MethodGet, "/v1/attendance?unsynced=true", trainerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []track.AttendanceRecord
	decodeInto(t, rec, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, track.StatusExcused, pending[0].Status)

	rec = env.do(t, http.MethodGet, "/v1/attendance?date=2026-02-10", trainerToken, nil)
	decodeInto(t, rec, &pending)
	assert.Len(t, pending, 1)
	rec = env.do(t, http.MethodGet, "/v1/attendance?date=2026-02-11", trainerToken, nil)
	decodeInto(t, rec, &pending)
	assert.Empty(t, pending)
}

func TestSyncEndpoints(t *testing.T) {
	env := setup(t)
	trainer := env.createUser(t, "trainer1", []string{user.RoleTrainer})
	trainerToken := env.token(t, trainer)

	rec := env.do(t, http.MethodGet, "/v1/sync/state", trainerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var state StateResponse
	decodeInto(t, rec, &state)
	for _, col := range []string{track.ColStudents, track.ColGroups, track.ColAttendance, track.ColAssessments} {
		assert.Equal(t, "ready", state.States[col], col)
	}

	rec = env.do(t, http.MethodPost, "/v1/sync/refresh", trainerToken, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec = env.do(t, http.MethodPost, "/v1/sync/full-load", trainerToken, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// retry is the one explicitly remote-only action
	rec = env.do(t, http.MethodPost, "/v1/sync/retry", trainerToken, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/sync/backfill", trainerToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := env.createUser(t, "admin1", user.AllRoles)
	rec = env.do(t, http.MethodPost, "/v1/sync/backfill", env.token(t, admin), nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestTokenRefresh(t *testing.T) {
	env := setup(t)
	trainer := env.createUser(t, "trainer1", []string{user.RoleTrainer})

	rec := env.do(t, http.MethodPost, "/v1/users/token-refresh", env.token(t, trainer), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp LoginResponse
	decodeInto(t, rec, &resp)
	assert.NotEmpty(t, resp.Token)

	// a token whose refresh window has passed is rejected
	claims := GetUserClaims(env.conf, trainer)
	claims.OrigIssuedAt = time.Now().Add(-2 * env.conf.Server.JWTRefreshExpirationDelta).Unix()
	stale, err := GenerateToken(env.conf, claims)
	require.NoError(t, err)
	rec = env.do(t, http.MethodPost, "/v1/users/token-refresh", stale, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/users/token-refresh", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUserAdminEndpoints(t *testing.T) {
	env := setup(t)
	admin := env.createUser(t, "admin1", user.AllRoles)
	trainer := env.createUser(t, "trainer1", []string{user.RoleTrainer})
	adminToken := env.token(t, admin)

	rec := env.do(t, http.MethodGet, "/v1/users", env.token(t, trainer), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/users", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []user.User
	decodeInto(t, rec, &list)
	assert.Len(t, list, 2)

	rec = env.do(t, http.MethodPost, "/v1/users/register", adminToken, user.NewUser{
		Name: "Trainer Two", Username: "trainer2",
		Password: "V3ry.s3cret!", PasswordConfirm: "V3ry.s3cret!",
		Roles: []string{user.RoleTrainer},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// duplicate usernames are rejected regardless of casing
	rec = env.do(t, http.MethodPost, "/v1/users/register", adminToken, user.NewUser{
		Name: "Dup", Username: "TRAINER2",
		Password: "V3ry.s3cret!", PasswordConfirm: "V3ry.s3cret!",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// a trainer can read themselves but not others
	rec = env.do(t, http.MethodGet, fmt.Sprintf("/v1/users/%s", trainer.ID), env.token(t, trainer), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, fmt.Sprintf("/v1/users/%s", admin.ID), env.token(t, trainer), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// an admin cannot delete themselves
	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/v1/users/%s", admin.ID), adminToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/v1/users/%s", trainer.ID), adminToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
