package testutils

import (
	"github.com/mandelsoft/goutils/testutils"

	"github.com/mandelsoft/objectgraph/pkg/metadata"
)

// ArtModelYAML describes the model used by the tests:
//
//   - Artist (generated key, optimistic locking on NAME)
//     paintings (cascade), notes (cascade)
//   - Painting (generated key, discriminator TYPE) with sub entity Sculpture
//     artist (nullify), gallery (nullify), exhibits (deny)
//   - Gallery (uuid key): paintings (deny), exhibits (cascade)
//   - Exhibit (compound key propagated from gallery and painting)
//   - ArtGroup: reflexive parent/children (nullify)
//   - Category: reflexive parent/children (children cascade)
//   - Note: soft deleted via DELETED
const ArtModelYAML = `
name: art
entities:
- name: Artist
  table: ARTIST
  primaryKey: [ID]
  keyStrategy: generated
  lock: optimistic
  attributes:
  - name: name
    column: NAME
    mandatory: true
    usedForLocking: true
  - name: birthYear
    column: BIRTH_YEAR
    type: int
  relationships:
  - name: paintings
    target: Painting
    toMany: true
    joins: [{source: ID, target: ARTIST_ID}]
    reverse: artist
    deleteRule: cascade
  - name: notes
    target: Note
    toMany: true
    joins: [{source: ID, target: ARTIST_ID}]
    reverse: artist
    deleteRule: cascade

- name: Painting
  table: PAINTING
  primaryKey: [ID]
  keyStrategy: generated
  discriminator: TYPE
  discriminatorValue: painting
  attributes:
  - name: title
    column: TITLE
    mandatory: true
  - name: price
    column: PRICE
    type: float
  relationships:
  - name: artist
    target: Artist
    joins: [{source: ARTIST_ID, target: ID}]
    reverse: paintings
    deleteRule: nullify
  - name: gallery
    target: Gallery
    joins: [{source: GALLERY_ID, target: ID}]
    reverse: paintings
    deleteRule: nullify
  - name: exhibits
    target: Exhibit
    toMany: true
    joins: [{source: ID, target: PAINTING_ID}]
    reverse: painting
    deleteRule: deny

- name: Sculpture
  super: Painting
  discriminatorValue: sculpture
  attributes:
  - name: material
    column: MATERIAL

- name: Gallery
  table: GALLERY
  primaryKey: [ID]
  keyStrategy: uuid
  attributes:
  - name: name
    column: NAME
  relationships:
  - name: paintings
    target: Painting
    toMany: true
    joins: [{source: ID, target: GALLERY_ID}]
    reverse: gallery
    deleteRule: deny
  - name: exhibits
    target: Exhibit
    toMany: true
    joins: [{source: ID, target: GALLERY_ID}]
    reverse: gallery
    deleteRule: cascade

- name: Exhibit
  table: EXHIBIT
  primaryKey: [GALLERY_ID, PAINTING_ID]
  attributes:
  - name: note
    column: NOTE
  relationships:
  - name: gallery
    target: Gallery
    joins: [{source: GALLERY_ID, target: ID}]
    reverse: exhibits
  - name: painting
    target: Painting
    joins: [{source: PAINTING_ID, target: ID}]
    reverse: exhibits

- name: ArtGroup
  table: ARTGROUP
  primaryKey: [ID]
  keyStrategy: generated
  attributes:
  - name: name
    column: NAME
  relationships:
  - name: parent
    target: ArtGroup
    joins: [{source: PARENT_ID, target: ID}]
    reverse: children
    deleteRule: nullify
  - name: children
    target: ArtGroup
    toMany: true
    joins: [{source: ID, target: PARENT_ID}]
    reverse: parent
    deleteRule: nullify

- name: Category
  table: CATEGORY
  primaryKey: [ID]
  keyStrategy: generated
  attributes:
  - name: name
    column: NAME
  relationships:
  - name: parent
    target: Category
    joins: [{source: PARENT_ID, target: ID}]
    reverse: children
    deleteRule: nullify
  - name: children
    target: Category
    toMany: true
    joins: [{source: ID, target: PARENT_ID}]
    reverse: parent
    deleteRule: cascade

- name: Note
  table: NOTE
  primaryKey: [ID]
  keyStrategy: generated
  softDelete: DELETED
  attributes:
  - name: text
    column: TEXT
  relationships:
  - name: artist
    target: Artist
    joins: [{source: ARTIST_ID, target: ID}]
    reverse: notes
`

func ArtModel() *metadata.Model {
	return testutils.Must(metadata.ParseModel([]byte(ArtModelYAML)))
}

func ArtResolver() *metadata.Resolver {
	return testutils.Must(metadata.NewResolver(ArtModel()))
}
