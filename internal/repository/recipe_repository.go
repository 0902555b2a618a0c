// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"recetario-go/internal/model"
	"recetario-go/pkg/apperr"
)

// RecipeRepository 接口定义了食谱记录的持久化操作。
// 所有错误都以 apperr.Kind 分类返回，调用方无需关心具体驱动。
type RecipeRepository interface {
	// List 按创建时间倒序返回全部食谱。
	List(ctx context.Context) ([]model.Recipe, error)
	FindByID(ctx context.Context, id string) (*model.Recipe, error)
	// Create 写入新记录，ID 与 CreatedAt 由存储层分配并回填到 recipe。
	Create(ctx context.Context, recipe *model.Recipe) error
	// Update 只写入非 nil 字段。previous 是同一事务内加锁读到的更新前记录，
	// 调用方应以它为准清理旧图片，而不是事务之外读到的快照。
	Update(ctx context.Context, id string, fields model.RecipeFields) (updated, previous *model.Recipe, err error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
}

// recipeRepository 是 RecipeRepository 接口的 GORM 实现。
type recipeRepository struct {
	db *gorm.DB
}

// NewRecipeRepository 创建一个新的 RecipeRepository 实例。
func NewRecipeRepository(db *gorm.DB) RecipeRepository {
	return &recipeRepository{db: db}
}

// List 从数据库中检索所有食谱，created_at 相同时按 ID 倒序。
func (r *recipeRepository) List(ctx context.Context) ([]model.Recipe, error) {
	recipes := make([]model.Recipe, 0)
	err := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&recipes).Error
	if err != nil {
		return nil, classify("repository.List", err)
	}
	return recipes, nil
}

// FindByID 根据 ID 查找一条食谱。
func (r *recipeRepository) FindByID(ctx context.Context, id string) (*model.Recipe, error) {
	var recipe model.Recipe
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&recipe).Error; err != nil {
		return nil, classify("repository.FindByID", err)
	}
	return &recipe, nil
}

// Create 在数据库中创建一个新的食谱记录。
func (r *recipeRepository) Create(ctx context.Context, recipe *model.Recipe) error {
	if strings.TrimSpace(recipe.Title) == "" {
		return apperr.New(apperr.KindValidation, "repository.Create", "标题不能为空")
	}
	recipe.ID = ""
	if err := r.db.WithContext(ctx).Create(recipe).Error; err != nil {
		return classify("repository.Create", err)
	}
	return nil
}

// Update 在事务中加锁读取旧记录，写入部分字段后重新读取最新状态。
func (r *recipeRepository) Update(ctx context.Context, id string, fields model.RecipeFields) (*model.Recipe, *model.Recipe, error) {
	updates := make(map[string]interface{})
	if fields.Title != nil {
		if strings.TrimSpace(*fields.Title) == "" {
			return nil, nil, apperr.New(apperr.KindValidation, "repository.Update", "标题不能为空")
		}
		updates["title"] = *fields.Title
	}
	if fields.Ingredients != nil {
		updates["ingredients"] = *fields.Ingredients
	}
	if fields.Steps != nil {
		updates["steps"] = *fields.Steps
	}
	if fields.ImageURL != nil {
		if *fields.ImageURL == "" {
			updates["image_url"] = nil
		} else {
			updates["image_url"] = *fields.ImageURL
		}
	}

	var recipe, previous model.Recipe
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 行锁保证并发编辑同一条记录时，每个事务看到的都是上一个事务提交后的图片
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&previous).Error; err != nil {
			return err
		}
		if len(updates) == 0 {
			recipe = previous
			return nil
		}
		if err := tx.Model(&model.Recipe{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).First(&recipe).Error
	})
	if err != nil {
		return nil, nil, classify("repository.Update", err)
	}
	return &recipe, &previous, nil
}

// Delete 删除一条食谱，没有匹配的行时返回 NotFound。
func (r *recipeRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Recipe{})
	if result.Error != nil {
		return classify("repository.Delete", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, "repository.Delete", "食谱不存在")
	}
	return nil
}

// Count 返回食谱总数。
func (r *recipeRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Recipe{}).Count(&total).Error; err != nil {
		return 0, classify("repository.Count", err)
	}
	return total, nil
}

// MySQL 中表示权限不足的错误码。
var mysqlAccessDenied = map[uint16]bool{
	1044: true, // ER_DBACCESS_DENIED_ERROR
	1045: true, // ER_ACCESS_DENIED_ERROR
	1142: true, // ER_TABLEACCESS_DENIED_ERROR
	1143: true, // ER_COLUMNACCESS_DENIED_ERROR
	1227: true, // ER_SPECIFIC_ACCESS_DENIED_ERROR
}

// classify 把驱动层错误转换为带类别的错误。
func classify(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Wrapf(apperr.KindNotFound, op, err, "食谱不存在")
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		if mysqlAccessDenied[myErr.Number] {
			return apperr.Wrap(apperr.KindPermissionDenied, op, err)
		}
		switch myErr.Number {
		case 1048, 1406: // 字段为空或过长
			return apperr.Wrap(apperr.KindValidation, op, err)
		}
		return apperr.Wrap(apperr.KindStoreUnavailable, op, err)
	}
	// 连接失败、超时等均视为存储不可用
	return apperr.Wrap(apperr.KindStoreUnavailable, op, err)
}
