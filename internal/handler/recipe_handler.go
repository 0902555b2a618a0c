package handler

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"recetario-go/internal/service"
	"recetario-go/pkg/log"
)

// RecipeHandler 负责处理食谱的增删改查请求。
type RecipeHandler struct {
	recipeService service.RecipeService
	maxUploadMB   int
}

// NewRecipeHandler 创建一个新的 RecipeHandler 实例。
func NewRecipeHandler(recipeService service.RecipeService, maxUploadMB int) *RecipeHandler {
	return &RecipeHandler{recipeService: recipeService, maxUploadMB: maxUploadMB}
}

// List 返回全部食谱，提供 q 参数时按关键词过滤。
func (h *RecipeHandler) List(c *gin.Context) {
	if q := c.Query("q"); q != "" {
		ok(c, h.recipeService.Filter(q))
		return
	}
	ok(c, h.recipeService.List())
}

// Refresh 从存储重新加载食谱列表。
func (h *RecipeHandler) Refresh(c *gin.Context) {
	list, err := h.recipeService.Refresh(c.Request.Context())
	if err != nil {
		fail(c, service.ActionLoad, err)
		return
	}
	ok(c, list)
}

// Create 处理 multipart 表单：title、ingredients、steps 与可选的 image 文件。
func (h *RecipeHandler) Create(c *gin.Context) {
	input, image, valid := h.bindForm(c)
	if !valid {
		return
	}
	result, err := h.recipeService.Create(c.Request.Context(), input, image)
	if err != nil {
		fail(c, service.ActionSave, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": saveMessage(result), "data": result})
}

// Update 编辑指定食谱。removeImage=true 且未上传新图片时清除现有图片。
func (h *RecipeHandler) Update(c *gin.Context) {
	input, image, valid := h.bindForm(c)
	if !valid {
		return
	}
	input.RemoveImage, _ = strconv.ParseBool(c.PostForm("removeImage"))

	result, err := h.recipeService.Update(c.Request.Context(), c.Param("id"), input, image)
	if err != nil {
		fail(c, service.ActionSave, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": saveMessage(result), "data": result})
}

// Delete 删除指定食谱。
func (h *RecipeHandler) Delete(c *gin.Context) {
	if err := h.recipeService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, service.ActionDelete, err)
		return
	}
	ok(c, nil)
}

func (h *RecipeHandler) bindForm(c *gin.Context) (service.RecipeInput, *service.ImageFile, bool) {
	input := service.RecipeInput{
		Title:       c.PostForm("title"),
		Ingredients: c.PostForm("ingredients"),
		Steps:       c.PostForm("steps"),
	}

	fileHeader, err := c.FormFile("image")
	if err == http.ErrMissingFile {
		return input, nil, true
	}
	if err != nil {
		log.Warnf("[RecipeHandler] 解析上传图片失败: %v", err)
		badRequest(c, "无效的图片上传")
		return input, nil, false
	}
	if h.maxUploadMB > 0 && fileHeader.Size > int64(h.maxUploadMB)<<20 {
		badRequest(c, "图片不能超过 "+strconv.Itoa(h.maxUploadMB)+"MB")
		return input, nil, false
	}
	data, err := readFile(fileHeader)
	if err != nil {
		log.Errorf("[RecipeHandler] 读取上传图片失败: %v", err)
		badRequest(c, "无法读取上传的图片")
		return input, nil, false
	}
	return input, &service.ImageFile{Name: fileHeader.Filename, Data: data}, true
}

func readFile(fileHeader *multipart.FileHeader) ([]byte, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func saveMessage(result *service.SaveResult) string {
	if result.ImageDegraded {
		return "食谱已保存，但图片未能附加"
	}
	return "success"
}
