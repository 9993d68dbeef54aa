// Package repository define interfaces de acceso a datos del core de
// autenticación. Las implementaciones viven en internal/store/*.
//
// Las relaciones entre entidades son por ID opaco (lookups explícitos),
// nunca por referencias cruzadas en memoria.
package repository
