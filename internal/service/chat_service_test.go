package service

import (
	"context"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"recetario-go/internal/config"
	"recetario-go/internal/model"
	"recetario-go/internal/repository"
	"recetario-go/pkg/apperr"
)

const failureText = "Lo siento, tuve problemas para crear una receta. ¡Por favor, inténtalo de nuevo!"

var tacos = model.RecipeSuggestion{
	Title:       "Tacos Vegetarianos",
	Ingredients: []string{"2 tortillas", "1 taza frijoles"},
	Steps:       []string{"Calentar tortillas", "Rellenar con frijoles"},
}

type mockSaver struct {
	mock.Mock
}

func (m *mockSaver) SaveSuggestion(ctx context.Context, suggestion model.RecipeSuggestion) (*SaveResult, error) {
	args := m.Called(ctx, suggestion)
	res, _ := args.Get(0).(*SaveResult)
	return res, args.Error(1)
}

type chatFixture struct {
	repo    repository.RecipeRepository
	recipes RecipeService
	convs   *memoryConversationRepo
	chat    ChatService
}

func newChatFixture(t *testing.T, suggester Suggester) *chatFixture {
	t.Helper()
	repo := repository.NewRecipeRepository(newTestDB(t))
	recipes := NewRecipeService(repo, newFakeBlobStore(), &fakeImageSource{err: errBoom}, &fakeImageSource{err: errBoom}, nil, nil, config.RecipesConfig{})
	convs := newMemoryConversationRepo()
	return &chatFixture{
		repo:    repo,
		recipes: recipes,
		convs:   convs,
		chat:    NewChatService(suggester, recipes, convs, nil, failureText),
	}
}

func lastMessage(msgs []model.ChatMessage) model.ChatMessage {
	return msgs[len(msgs)-1]
}

func TestChatSendSuggestion(t *testing.T) {
	f := newChatFixture(t, &fakeSuggester{suggestion: &tacos})
	ctx := context.Background()
	prompt := gofakeit.Sentence(6)

	res, err := f.chat.Send(ctx, "s1", "  "+prompt+"  ")
	require.NoError(t, err)
	require.Len(t, res.Messages, 2)

	user := res.Messages[0]
	assert.Equal(t, model.RoleUser, user.Role)
	assert.Equal(t, prompt, user.Content)
	assert.False(t, user.Awaiting())

	reply := res.Messages[1]
	assert.Equal(t, model.RoleAssistant, reply.Role)
	assert.Equal(t, ReplySuggestion, reply.Content)
	assert.True(t, reply.Awaiting())
	require.NotNil(t, reply.Recipe)
	assert.Equal(t, tacos, *reply.Recipe)
	assert.NotEqual(t, user.ID, reply.ID)

	history, err := f.chat.History(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, res.Messages, history)
}

func TestChatSendFailureAppendsApology(t *testing.T) {
	f := newChatFixture(t, &fakeSuggester{err: errBoom})

	res, err := f.chat.Send(context.Background(), "s1", "algo dulce")
	require.NoError(t, err)
	require.Len(t, res.Messages, 2)
	reply := lastMessage(res.Messages)
	assert.Equal(t, failureText, reply.Content)
	assert.False(t, reply.Awaiting())
	assert.Nil(t, reply.Recipe)
}

func TestChatSendFailureUsesErrorMessage(t *testing.T) {
	f := newChatFixture(t, &fakeSuggester{err: apperr.Wrapf(apperr.KindSuggestionFailed, "llm.Suggest", errBoom, "Sin receta")})

	res, err := f.chat.Send(context.Background(), "s1", "algo dulce")
	require.NoError(t, err)
	assert.Equal(t, "Sin receta", lastMessage(res.Messages).Content)
}

func TestChatSendAppendsReplyAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var suggestCtxErr error
	suggester := &fakeSuggester{suggestion: &tacos, hook: func(sctx context.Context) {
		// 调用方在建议返回之前断开
		cancel()
		suggestCtxErr = sctx.Err()
	}}
	convs := ctxConversationRepo{newMemoryConversationRepo()}
	chat := NewChatService(suggester, nil, convs, nil, failureText)

	res, err := chat.Send(ctx, "s1", "tacos")
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	assert.NoError(t, suggestCtxErr)
	require.Len(t, res.Messages, 2)

	history, err := chat.History(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleUser, history[0].Role)
	reply := history[1]
	assert.True(t, reply.Awaiting())
	require.NotNil(t, reply.Recipe)
	assert.Equal(t, tacos, *reply.Recipe)
}

func TestChatSendRejectsBlankInput(t *testing.T) {
	f := newChatFixture(t, &fakeSuggester{suggestion: &tacos})

	_, err := f.chat.Send(context.Background(), "s1", " \n\t ")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	history, err := f.chat.History(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestChatAcceptSavesExactlyOnce(t *testing.T) {
	f := newChatFixture(t, &fakeSuggester{suggestion: &tacos})
	ctx := context.Background()

	res, err := f.chat.Send(ctx, "s1", "tacos")
	require.NoError(t, err)
	suggestionID := lastMessage(res.Messages).ID

	resolved, err := f.chat.Resolve(ctx, "s1", suggestionID, model.DecisionAccept)
	require.NoError(t, err)
	require.NotNil(t, resolved.Saved)
	assert.Equal(t, ReplyAccepted, lastMessage(resolved.Messages).Content)
	assert.False(t, resolved.Messages[1].Awaiting())
	assert.Len(t, resolved.Messages, 3)

	stored, err := f.repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "Tacos Vegetarianos", stored[0].Title)
	assert.Equal(t, "2 tortillas\n1 taza frijoles", stored[0].Ingredients)
	assert.Equal(t, "Calentar tortillas\nRellenar con frijoles", stored[0].Steps)
	assert.Nil(t, stored[0].ImageURL)
	assert.Len(t, f.recipes.List(), 1)

	_, err = f.chat.Resolve(ctx, "s1", suggestionID, model.DecisionAccept)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	stored, err = f.repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestChatModifyAndReject(t *testing.T) {
	cases := map[model.Decision]string{
		model.DecisionModify: ReplyModify,
		model.DecisionReject: ReplyRejected,
	}
	for decision, want := range cases {
		t.Run(string(decision), func(t *testing.T) {
			f := newChatFixture(t, &fakeSuggester{suggestion: &tacos})
			ctx := context.Background()

			res, err := f.chat.Send(ctx, "s1", "tacos")
			require.NoError(t, err)

			resolved, err := f.chat.Resolve(ctx, "s1", lastMessage(res.Messages).ID, decision)
			require.NoError(t, err)
			assert.Nil(t, resolved.Saved)
			assert.Equal(t, want, lastMessage(resolved.Messages).Content)
			assert.False(t, resolved.Messages[1].Awaiting())

			total, err := f.repo.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, total)
		})
	}
}

func TestChatResolveErrors(t *testing.T) {
	f := newChatFixture(t, &fakeSuggester{suggestion: &tacos})
	ctx := context.Background()

	res, err := f.chat.Send(ctx, "s1", "tacos")
	require.NoError(t, err)

	_, err = f.chat.Resolve(ctx, "s1", "missing", model.DecisionReject)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.chat.Resolve(ctx, "s1", lastMessage(res.Messages).ID, model.Decision("maybe"))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	// 用户消息从不处于待决状态
	_, err = f.chat.Resolve(ctx, "s1", res.Messages[0].ID, model.DecisionAccept)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	// 其他会话中看不到这条建议
	_, err = f.chat.Resolve(ctx, "s2", lastMessage(res.Messages).ID, model.DecisionAccept)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestChatMultiplePendingSuggestions(t *testing.T) {
	f := newChatFixture(t, &fakeSuggester{suggestion: &tacos})
	ctx := context.Background()

	first, err := f.chat.Send(ctx, "s1", "tacos")
	require.NoError(t, err)
	firstID := lastMessage(first.Messages).ID
	second, err := f.chat.Send(ctx, "s1", "más tacos")
	require.NoError(t, err)
	secondID := lastMessage(second.Messages).ID

	resolved, err := f.chat.Resolve(ctx, "s1", secondID, model.DecisionReject)
	require.NoError(t, err)

	var pending []string
	for _, m := range resolved.Messages {
		if m.Awaiting() {
			pending = append(pending, m.ID)
		}
	}
	assert.Equal(t, []string{firstID}, pending)

	_, err = f.chat.Resolve(ctx, "s1", firstID, model.DecisionAccept)
	require.NoError(t, err)
	total, err := f.repo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestChatAcceptCommitsAfterCancel(t *testing.T) {
	saver := &mockSaver{}
	saver.On("SaveSuggestion", mock.Anything, tacos).
		Run(func(args mock.Arguments) {
			// 调用方已离开，但保存使用的上下文不受影响
			assert.NoError(t, args.Get(0).(context.Context).Err())
		}).
		Return(&SaveResult{Recipe: model.Recipe{ID: "r1", Title: tacos.Title}}, nil).
		Once()
	chat := NewChatService(&fakeSuggester{suggestion: &tacos}, saver, newMemoryConversationRepo(), nil, failureText)

	res, err := chat.Send(context.Background(), "s1", "tacos")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resolved, err := chat.Resolve(ctx, "s1", lastMessage(res.Messages).ID, model.DecisionAccept)
	require.NoError(t, err)
	require.NotNil(t, resolved.Saved)
	assert.Equal(t, "r1", resolved.Saved.Recipe.ID)
	assert.Equal(t, ReplyAccepted, lastMessage(resolved.Messages).Content)
	saver.AssertExpectations(t)
}

func TestChatAcceptPermissionDenied(t *testing.T) {
	saver := &mockSaver{}
	saver.On("SaveSuggestion", mock.Anything, tacos).
		Return(nil, apperr.Wrap(apperr.KindPermissionDenied, "repository.Create", errBoom)).
		Once()
	chat := NewChatService(&fakeSuggester{suggestion: &tacos}, saver, newMemoryConversationRepo(), nil, failureText)
	ctx := context.Background()

	res, err := chat.Send(ctx, "s1", "tacos")
	require.NoError(t, err)
	resolved, err := chat.Resolve(ctx, "s1", lastMessage(res.Messages).ID, model.DecisionAccept)
	require.NoError(t, err)

	assert.Nil(t, resolved.Saved)
	assert.Equal(t, MsgPermissionDenied, lastMessage(resolved.Messages).Content)
	// 已清除的待决状态不会恢复
	assert.False(t, resolved.Messages[1].Awaiting())
	saver.AssertExpectations(t)
}

func TestChatConcurrentSendsKeepEveryMessage(t *testing.T) {
	f := newChatFixture(t, &fakeSuggester{suggestion: &tacos})
	ctx := context.Background()

	prompts := make([]string, 10)
	for i := range prompts {
		prompts[i] = gofakeit.Sentence(4)
	}

	var wg sync.WaitGroup
	for _, p := range prompts {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			_, err := f.chat.Send(ctx, "s1", p)
			assert.NoError(t, err)
		}(p)
	}
	wg.Wait()

	history, err := f.chat.History(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, history, 2*len(prompts))

	var users []string
	seen := map[string]bool{}
	for _, m := range history {
		assert.False(t, seen[m.ID])
		seen[m.ID] = true
		if m.Role == model.RoleUser {
			users = append(users, m.Content)
		}
	}
	assert.ElementsMatch(t, prompts, users)
}

func TestSessionLocksAreReleased(t *testing.T) {
	l := newSessionLocks()
	unlock := l.lock("a")
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.lock("a")()
	}()
	unlock()
	<-done

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.locks)
}
