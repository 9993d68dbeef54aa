// Package memory implementa los repositorios del core en memoria.
//
// Es el backend por defecto para tests y despliegues single-node sin base de
// datos. Almacenamiento estilo arena: mapas indexados por ID opaco, con
// relaciones resueltas por lookup explícito, protegidos por un mutex por
// repositorio.
package memory
