package generator

import "github.com/promptlab/backend/internal/models"

// BuildParameterGrid expands the sampling ranges into the full Cartesian
// product, temperature-major then top-p, each cell carrying the variation
// count. Duplicate values are kept as duplicate cells.
func BuildParameterGrid(temperatures, topPs []float64, variations int) []models.ParameterSet {
	grid := make([]models.ParameterSet, 0, len(temperatures)*len(topPs))
	for _, temperature := range temperatures {
		for _, topP := range topPs {
			grid = append(grid, models.ParameterSet{
				Temperature: temperature,
				TopP:        topP,
				Variations:  variations,
			})
		}
	}
	return grid
}
