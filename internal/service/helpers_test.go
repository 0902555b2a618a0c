package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"image/png"
	"path"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"recetario-go/internal/model"
	"recetario-go/internal/repository"
	"recetario-go/pkg/apperr"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 每个连接都是独立的内存库，只保留一个
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&model.Recipe{}))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 240, G: 180, B: 60, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// fakeBlobStore 是内存中的对象存储，地址即对象 key。
type fakeBlobStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	seq       int
	uploadErr error
	deleteErr error
	uploads   int
	deleted   []string
	ops       []string // 按调用顺序记录 "upload"/"delete"
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (f *fakeBlobStore) Upload(_ context.Context, data []byte, suggestedName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	f.ops = append(f.ops, "upload")
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.seq++
	url := fmt.Sprintf("http://blobs.test/recipe-images/%d%s", f.seq, path.Ext(suggestedName))
	f.objects[url] = append([]byte(nil), data...)
	return url, nil
}

func (f *fakeBlobStore) Delete(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, url)
	f.ops = append(f.ops, "delete")
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.objects, url)
	return nil
}

func (f *fakeBlobStore) object(url string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[url]
	return data, ok
}

func (f *fakeBlobStore) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeBlobStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// fakeImageSource 同时实现 ImageGenerator 与 ImageFinder。
type fakeImageSource struct {
	data  []byte
	err   error
	calls []string
}

func (f *fakeImageSource) Generate(_ context.Context, title string) ([]byte, error) {
	f.calls = append(f.calls, title)
	return f.data, f.err
}

func (f *fakeImageSource) Find(_ context.Context, keyword string) ([]byte, error) {
	f.calls = append(f.calls, keyword)
	return f.data, f.err
}

type fakePublisher struct {
	mu     sync.Mutex
	events []model.RecipeEvent
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, event model.RecipeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

func (f *fakePublisher) types() []model.RecipeEventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.RecipeEventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

// failingUpdateRepo 让 Update 总是失败，其余操作透传。
type failingUpdateRepo struct {
	repository.RecipeRepository
	err error
}

func (r failingUpdateRepo) Update(context.Context, string, model.RecipeFields) (*model.Recipe, *model.Recipe, error) {
	return nil, nil, r.err
}

// staleFindRepo 的 FindByID 总是返回固定的旧快照，模拟读到旧值后记录又被并发修改。
type staleFindRepo struct {
	repository.RecipeRepository
	snapshot model.Recipe
}

func (r staleFindRepo) FindByID(context.Context, string) (*model.Recipe, error) {
	recipe := r.snapshot
	return &recipe, nil
}

// listHookRepo 在每次 List 之后调用 hook，并统计调用次数。
type listHookRepo struct {
	repository.RecipeRepository
	mu    sync.Mutex
	lists int
	hook  func()
}

func (r *listHookRepo) List(ctx context.Context) ([]model.Recipe, error) {
	list, err := r.RecipeRepository.List(ctx)
	r.mu.Lock()
	r.lists++
	r.mu.Unlock()
	if r.hook != nil {
		r.hook()
	}
	return list, err
}

func (r *listHookRepo) listCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lists
}

// failingCreateRepo 模拟存储的访问策略拒绝写入。
type failingCreateRepo struct {
	repository.RecipeRepository
}

func (r failingCreateRepo) Create(context.Context, *model.Recipe) error {
	return apperr.Wrap(apperr.KindPermissionDenied, "repository.Create", errBoom)
}

// memoryConversationRepo 是内存中的会话记录存储。
type memoryConversationRepo struct {
	mu       sync.Mutex
	sessions map[string][]model.ChatMessage
}

func newMemoryConversationRepo() *memoryConversationRepo {
	return &memoryConversationRepo{sessions: make(map[string][]model.ChatMessage)}
}

func (r *memoryConversationRepo) GetTranscript(_ context.Context, sessionID string) ([]model.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ChatMessage{}, r.sessions[sessionID]...), nil
}

func (r *memoryConversationRepo) SaveTranscript(_ context.Context, sessionID string, messages []model.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = append([]model.ChatMessage{}, messages...)
	return nil
}

// ctxConversationRepo 在 ctx 已取消时拒绝读写，行为与真实的 Redis 客户端一致。
type ctxConversationRepo struct {
	*memoryConversationRepo
}

func (r ctxConversationRepo) GetTranscript(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.memoryConversationRepo.GetTranscript(ctx, sessionID)
}

func (r ctxConversationRepo) SaveTranscript(ctx context.Context, sessionID string, messages []model.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.memoryConversationRepo.SaveTranscript(ctx, sessionID, messages)
}

type fakeSuggester struct {
	suggestion *model.RecipeSuggestion
	err        error
	hook       func(ctx context.Context)
}

func (f *fakeSuggester) Suggest(ctx context.Context, _ string) (*model.RecipeSuggestion, error) {
	if f.hook != nil {
		f.hook(ctx)
	}
	if f.err != nil {
		return nil, f.err
	}
	s := *f.suggestion
	return &s, nil
}

var errBoom = errors.New("boom")
