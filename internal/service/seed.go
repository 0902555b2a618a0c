package service

import (
	"context"

	"recetario-go/internal/model"
	"recetario-go/pkg/log"
)

func seedImage(url string) *string { return &url }

// seedRecipes 是空库时写入的示例食谱，按展示顺序排列。图片使用外部地址，不占用存储桶。
var seedRecipes = []model.Recipe{
	{
		Title:       "Tostada de Aguacate con Huevo",
		Ingredients: "1 rebanada de pan\n1/2 aguacate\n1 huevo\nSal y pimienta",
		Steps:       "1. Tostar el pan.\n2. Machacar el aguacate y untarlo en la tostada.\n3. Freír o pochar un huevo y colocarlo encima.\n4. Sazonar con sal y pimienta.",
		ImageURL:    seedImage("https://picsum.photos/seed/avocado/400/300"),
	},
	{
		Title:       "Pasta Clásica con Tomate",
		Ingredients: "200g de pasta\n400g de tomates en lata\n1 diente de ajo\nAceite de oliva\nAlbahaca",
		Steps:       "1. Cocinar la pasta según las instrucciones del paquete.\n2. Saltear el ajo en aceite de oliva.\n3. Añadir los tomates y cocinar a fuego lento durante 15 minutos.\n4. Mezclar con la pasta y decorar con albahaca.",
		ImageURL:    seedImage("https://picsum.photos/seed/pasta/400/300"),
	},
	{
		Title:       "Galletas con Chips de Chocolate",
		Ingredients: "2 1/4 tazas de harina\n1 cdta. de bicarbonato de sodio\n1 taza de mantequilla\n3/4 taza de azúcar\n3/4 taza de azúcar moreno\n2 huevos\n2 tazas de chips de chocolate",
		Steps:       "1. Precalentar el horno a 190°C (375°F).\n2. Mezclar los ingredientes secos.\n3. Batir la mantequilla y los azúcares, luego añadir los huevos.\n4. Añadir gradualmente los ingredientes secos.\n5. Incorporar los chips de chocolate.\n6. Colocar cucharadas de masa en bandejas para hornear sin engrasar.\n7. Hornear de 9 a 11 minutos.",
		ImageURL:    seedImage("https://picsum.photos/seed/cookies/400/300"),
	},
}

// seedIfEmpty 在存储为空时写入示例食谱。倒序创建，使列表按创建时间倒序时保持展示顺序。
func (s *recipeService) seedIfEmpty(ctx context.Context) error {
	total, err := s.repo.Count(ctx)
	if err != nil {
		return err
	}
	if total > 0 {
		return nil
	}
	for i := len(seedRecipes) - 1; i >= 0; i-- {
		recipe := cloneRecipe(seedRecipes[i])
		if err := s.repo.Create(ctx, &recipe); err != nil {
			return err
		}
	}
	log.Infof("[RecipeService] 存储为空，已写入 %d 条示例食谱", len(seedRecipes))
	return nil
}
