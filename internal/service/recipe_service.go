// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"recetario-go/internal/config"
	"recetario-go/internal/model"
	"recetario-go/internal/repository"
	"recetario-go/pkg/apperr"
	"recetario-go/pkg/log"
	"recetario-go/pkg/metrics"
	"recetario-go/pkg/picture"
)

// BlobStore 是保存食谱图片的对象存储。
type BlobStore interface {
	Upload(ctx context.Context, data []byte, suggestedName string) (string, error)
	Delete(ctx context.Context, url string) error
}

// ImageGenerator 根据标题生成配图。
type ImageGenerator interface {
	Generate(ctx context.Context, title string) ([]byte, error)
}

// ImageFinder 按关键词查找图库图片，作为配图生成失败时的兜底。
type ImageFinder interface {
	Find(ctx context.Context, keyword string) ([]byte, error)
}

// EventPublisher 发布食谱变更事件。
type EventPublisher interface {
	Publish(ctx context.Context, event model.RecipeEvent) error
}

// RecipeInput 是创建或编辑食谱时用户提交的字段。
type RecipeInput struct {
	Title       string `json:"title" validate:"required,max=255"`
	Ingredients string `json:"ingredients" validate:"max=20000"`
	Steps       string `json:"steps" validate:"max=20000"`
	// RemoveImage 仅在编辑时生效：清除现有图片且未提供新图片。
	RemoveImage bool `json:"removeImage"`
}

// ImageFile 是用户上传的原始图片。
type ImageFile struct {
	Name string
	Data []byte
}

// SaveResult 描述一次保存的结果。
// ImageDegraded 为 true 表示记录已保存，但图片没能附加上。
type SaveResult struct {
	Recipe        model.Recipe `json:"recipe"`
	ImageDegraded bool         `json:"imageDegraded"`
	ImageSource   string       `json:"imageSource,omitempty"`
}

// RecipeService 是食谱集合的唯一持有者，负责保存与删除的先后顺序，并让内存状态与存储保持一致。
type RecipeService interface {
	// Load 从存储加载全部食谱，必要时先写入示例食谱。
	Load(ctx context.Context) error
	Refresh(ctx context.Context) ([]model.Recipe, error)
	List() []model.Recipe
	Filter(query string) []model.Recipe
	Get(id string) (model.Recipe, bool)
	Create(ctx context.Context, input RecipeInput, image *ImageFile) (*SaveResult, error)
	Update(ctx context.Context, id string, input RecipeInput, image *ImageFile) (*SaveResult, error)
	Delete(ctx context.Context, id string) error
	// SaveSuggestion 保存聊天助手的建议。配图依次尝试生成、图库兜底，最终可以没有图片，但不会因此放弃保存。
	SaveSuggestion(ctx context.Context, suggestion model.RecipeSuggestion) (*SaveResult, error)
}

type recipeService struct {
	repo      repository.RecipeRepository
	blobs     BlobStore
	generator ImageGenerator
	finder    ImageFinder
	events    EventPublisher
	metrics   *metrics.Metrics
	cfg       config.RecipesConfig
	validate  *validator.Validate

	mu      sync.RWMutex
	recipes []model.Recipe
	version uint64 // 每次修改 recipes 都会递增
}

// NewRecipeService 创建一个新的 RecipeService 实例。generator、finder、events 与 m 均可为 nil。
func NewRecipeService(
	repo repository.RecipeRepository,
	blobs BlobStore,
	generator ImageGenerator,
	finder ImageFinder,
	events EventPublisher,
	m *metrics.Metrics,
	cfg config.RecipesConfig,
) RecipeService {
	return &recipeService{
		repo:      repo,
		blobs:     blobs,
		generator: generator,
		finder:    finder,
		events:    events,
		metrics:   m,
		cfg:       cfg,
		validate:  validator.New(),
		recipes:   make([]model.Recipe, 0),
	}
}

func (s *recipeService) Load(ctx context.Context) error {
	if s.cfg.SeedOnEmpty {
		if err := s.seedIfEmpty(ctx); err != nil {
			return err
		}
	}
	_, err := s.Refresh(ctx)
	return err
}

// Refresh 用存储中的完整列表替换内存状态。
// 拉取期间若有其他写入合并进来则重新拉取，最多尝试 maxAttempts 次；
// 最后一次无论是否又有写入都直接采用该次拉取结果，属于有界的尽力而为。
func (s *recipeService) Refresh(ctx context.Context) ([]model.Recipe, error) {
	const maxAttempts = 3
	for attempt := 1; ; attempt++ {
		s.mu.RLock()
		start := s.version
		s.mu.RUnlock()

		list, err := s.repo.List(ctx)
		if err != nil {
			log.Errorf("[RecipeService] 刷新食谱列表失败: %v", err)
			return nil, err
		}

		s.mu.Lock()
		if s.version == start || attempt == maxAttempts {
			s.recipes = list
			s.version++
			s.metrics.SetRecipeCount(len(list))
			snapshot := cloneRecipes(list)
			s.mu.Unlock()
			return snapshot, nil
		}
		s.mu.Unlock()
	}
}

func (s *recipeService) List() []model.Recipe {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRecipes(s.recipes)
}

// Filter 在标题、食材和步骤中做不区分大小写的子串匹配，保持原有顺序。
func (s *recipeService) Filter(query string) []model.Recipe {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return s.List()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]model.Recipe, 0)
	for _, r := range s.recipes {
		if strings.Contains(strings.ToLower(r.Title), q) ||
			strings.Contains(strings.ToLower(r.Ingredients), q) ||
			strings.Contains(strings.ToLower(r.Steps), q) {
			matched = append(matched, cloneRecipe(r))
		}
	}
	return matched
}

func (s *recipeService) Get(id string) (model.Recipe, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.recipes {
		if r.ID == id {
			return cloneRecipe(r), true
		}
	}
	return model.Recipe{}, false
}

func (s *recipeService) Create(ctx context.Context, input RecipeInput, image *ImageFile) (*SaveResult, error) {
	input, err := s.checkInput("recipe.Create", input)
	if err != nil {
		return nil, err
	}
	var data []byte
	if image != nil {
		if data, err = s.prepareImage("recipe.Create", image); err != nil {
			return nil, err
		}
	}
	return s.create(ctx, input, data, metrics.SourceManual)
}

// create 先写入不带图片的记录拿到稳定 ID，再上传并附加图片。
// 图片步骤失败时记录保留（无图），不回滚。
func (s *recipeService) create(ctx context.Context, input RecipeInput, image []byte, source string) (*SaveResult, error) {
	recipe := &model.Recipe{
		Title:       input.Title,
		Ingredients: input.Ingredients,
		Steps:       input.Steps,
	}
	if err := s.repo.Create(ctx, recipe); err != nil {
		log.Errorf("[RecipeService] 创建食谱失败, title: %s, error: %v", input.Title, err)
		s.metrics.ObserveSave(source, metrics.OutcomeFailed)
		return nil, err
	}
	log.Infof("[RecipeService] 食谱已创建, id: %s, title: %s", recipe.ID, recipe.Title)

	result := &SaveResult{Recipe: *recipe}
	if image == nil {
		// 单次写入，直接合并
		s.merge(*recipe)
		s.afterSave(ctx, model.RecipeCreated, result, source)
		return result, nil
	}

	imageURL, err := s.blobs.Upload(ctx, image, "recipe"+picture.Ext)
	if err != nil {
		log.Warnf("[RecipeService] 图片上传失败，食谱保留为无图状态, id: %s, error: %v", recipe.ID, err)
		result.ImageDegraded = true
		s.merge(*recipe)
		s.afterSave(ctx, model.RecipeCreated, result, source)
		return result, nil
	}

	updated, _, err := s.repo.Update(ctx, recipe.ID, model.RecipeFields{ImageURL: &imageURL})
	if err != nil {
		log.Warnf("[RecipeService] 附加图片失败，食谱保留为无图状态, id: %s, error: %v", recipe.ID, err)
		s.deleteBlob(ctx, imageURL)
		result.ImageDegraded = true
	} else {
		result.Recipe = *updated
	}

	// 多次写入后以存储为准做全量刷新
	if _, err := s.Refresh(ctx); err != nil {
		s.merge(result.Recipe)
	}
	s.afterSave(ctx, model.RecipeCreated, result, source)
	return result, nil
}

// Update 编辑食谱。提供新图片时先上传新图，再一次性写入全部字段，最后尽力删除旧图，
// 记录不会指向已删除的对象，且始终只有一张当前图片。
// 待删除的旧图取自存储更新事务内读到的记录，而不是上传前的快照。
func (s *recipeService) Update(ctx context.Context, id string, input RecipeInput, image *ImageFile) (*SaveResult, error) {
	input, err := s.checkInput("recipe.Update", input)
	if err != nil {
		return nil, err
	}
	var data []byte
	if image != nil {
		if data, err = s.prepareImage("recipe.Update", image); err != nil {
			return nil, err
		}
	}

	// 记录不存在时不上传任何图片
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		log.Errorf("[RecipeService] 查找待编辑的食谱失败, id: %s, error: %v", id, err)
		s.metrics.ObserveSave(metrics.SourceManual, metrics.OutcomeFailed)
		return nil, err
	}

	fields := model.RecipeFields{Title: &input.Title, Ingredients: &input.Ingredients, Steps: &input.Steps}
	result := &SaveResult{}
	var newURL string
	switch {
	case data != nil:
		newURL, err = s.blobs.Upload(ctx, data, "recipe"+picture.Ext)
		if err != nil {
			// 图片保持不变，文字字段照常更新
			log.Warnf("[RecipeService] 新图片上传失败，保留原图片, id: %s, error: %v", id, err)
			result.ImageDegraded = true
		} else {
			fields.ImageURL = &newURL
		}
	case input.RemoveImage:
		cleared := ""
		fields.ImageURL = &cleared
	}

	updated, previous, err := s.repo.Update(ctx, id, fields)
	if err != nil {
		log.Errorf("[RecipeService] 更新食谱失败, id: %s, error: %v", id, err)
		if newURL != "" {
			s.deleteBlob(ctx, newURL)
		}
		s.metrics.ObserveSave(metrics.SourceManual, metrics.OutcomeFailed)
		return nil, err
	}

	if fields.ImageURL != nil && previous.HasImage() && *previous.ImageURL != *fields.ImageURL {
		s.deleteBlob(ctx, *previous.ImageURL)
	}

	result.Recipe = *updated
	s.merge(*updated)
	s.afterSave(ctx, model.RecipeUpdated, result, metrics.SourceManual)
	return result, nil
}

// Delete 先删除记录，成功后再尽力删除图片；无论图片是否删除成功，都从内存中移除该记录。
func (s *recipeService) Delete(ctx context.Context, id string) error {
	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		log.Errorf("[RecipeService] 查找待删除的食谱失败, id: %s, error: %v", id, err)
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		log.Errorf("[RecipeService] 删除食谱失败, id: %s, error: %v", id, err)
		return err
	}
	if current.HasImage() {
		s.deleteBlob(ctx, *current.ImageURL)
	}
	s.remove(id)
	s.publish(ctx, model.RecipeEvent{Type: model.RecipeDeleted, RecipeID: id})
	log.Infof("[RecipeService] 食谱已删除, id: %s", id)
	return nil
}

func (s *recipeService) SaveSuggestion(ctx context.Context, suggestion model.RecipeSuggestion) (*SaveResult, error) {
	input, err := s.checkInput("recipe.SaveSuggestion", RecipeInput{
		Title:       suggestion.Title,
		Ingredients: model.JoinLines(suggestion.Ingredients),
		Steps:       model.JoinLines(suggestion.Steps),
	})
	if err != nil {
		return nil, err
	}

	image, source := s.findImage(ctx, input.Title)
	s.metrics.ObserveImageSource(source)
	result, err := s.create(ctx, input, image, metrics.SourceChatbot)
	if err != nil {
		return nil, err
	}
	result.ImageSource = source
	return result, nil
}

// findImage 依次尝试配图生成与图库兜底，全部失败时返回 nil。
func (s *recipeService) findImage(ctx context.Context, title string) ([]byte, string) {
	if s.generator != nil {
		data, err := s.generator.Generate(ctx, title)
		if err == nil {
			if data, err = picture.Normalize(data, s.cfg.MaxImageWidth); err == nil {
				return data, metrics.ImageGenerated
			}
		}
		log.Warnf("[RecipeService] 配图生成失败，改用图库兜底, title: %s, error: %v", title, err)
	}
	if s.finder != nil {
		data, err := s.finder.Find(ctx, title)
		if err == nil {
			if data, err = picture.Normalize(data, s.cfg.MaxImageWidth); err == nil {
				return data, metrics.ImageStock
			}
		}
		log.Warnf("[RecipeService] 图库兜底失败, title: %s, error: %v", title, err)
	}
	exhausted := apperr.New(apperr.KindFallbackExhausted, "recipe.SaveSuggestion", "没有可用的图片来源")
	log.Warnf("[RecipeService] %v，食谱将不带图片保存, title: %s", exhausted, title)
	return nil, metrics.ImageNone
}

// checkInput 只去掉标题的首尾空白，配料与步骤原样保存；校验失败时不会发起任何网络调用。
func (s *recipeService) checkInput(op string, input RecipeInput) (RecipeInput, error) {
	input.Title = strings.TrimSpace(input.Title)
	if err := s.validate.Struct(input); err != nil {
		return input, apperr.Wrapf(apperr.KindValidation, op, err, validationMessage(err))
	}
	return input, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "输入不合法"
	}
	fe := verrs[0]
	switch {
	case fe.Field() == "Title" && fe.Tag() == "required":
		return "标题不能为空"
	case fe.Tag() == "max":
		return fmt.Sprintf("字段 %s 超出长度限制 %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("字段 %s 不合法", fe.Field())
}

// prepareImage 校验大小并归一化图片。
func (s *recipeService) prepareImage(op string, image *ImageFile) ([]byte, error) {
	if len(image.Data) == 0 {
		return nil, apperr.New(apperr.KindValidation, op, "图片内容为空")
	}
	if limit := s.cfg.MaxUploadMB; limit > 0 && len(image.Data) > limit<<20 {
		return nil, apperr.New(apperr.KindValidation, op, fmt.Sprintf("图片不能超过 %dMB", limit))
	}
	data, err := picture.Normalize(image.Data, s.cfg.MaxImageWidth)
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindValidation, op, err, "无法识别的图片格式")
	}
	return data, nil
}

// deleteBlob 尽力删除图片，失败只记录日志。
func (s *recipeService) deleteBlob(ctx context.Context, url string) {
	if err := s.blobs.Delete(ctx, url); err != nil {
		log.Warnf("[RecipeService] 删除图片失败（忽略）, url: %s, error: %v", url, err)
	}
}

func (s *recipeService) afterSave(ctx context.Context, eventType model.RecipeEventType, result *SaveResult, source string) {
	outcome := metrics.OutcomeOK
	if result.ImageDegraded {
		outcome = metrics.OutcomeDegraded
	}
	s.metrics.ObserveSave(source, outcome)
	recipe := result.Recipe
	s.publish(ctx, model.RecipeEvent{Type: eventType, RecipeID: recipe.ID, Recipe: &recipe})
}

func (s *recipeService) publish(ctx context.Context, event model.RecipeEvent) {
	if s.events == nil {
		return
	}
	event.OccurredAt = time.Now()
	if err := s.events.Publish(ctx, event); err != nil {
		log.Warnf("[RecipeService] 发布食谱事件失败, type: %s, id: %s, error: %v", event.Type, event.RecipeID, err)
	}
}

// merge 把单条记录合并进内存状态：已存在则原位替换，否则作为最新的一条插入到最前面。
func (s *recipeService) merge(recipe model.Recipe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	for i := range s.recipes {
		if s.recipes[i].ID == recipe.ID {
			s.recipes[i] = recipe
			return
		}
	}
	s.recipes = append([]model.Recipe{recipe}, s.recipes...)
	s.metrics.SetRecipeCount(len(s.recipes))
}

func (s *recipeService) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	kept := s.recipes[:0:0]
	for _, r := range s.recipes {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	s.recipes = kept
	s.metrics.SetRecipeCount(len(s.recipes))
}

func cloneRecipe(r model.Recipe) model.Recipe {
	if r.ImageURL != nil {
		url := *r.ImageURL
		r.ImageURL = &url
	}
	return r
}

func cloneRecipes(list []model.Recipe) []model.Recipe {
	out := make([]model.Recipe, len(list))
	for i, r := range list {
		out[i] = cloneRecipe(r)
	}
	return out
}
