package craftcord

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Tier is an ordered tool quality. TierNone means "no tool".
type Tier int

const (
	TierNone Tier = iota
	TierWood
	TierStone
	TierIron
	TierGold
	TierDiamond
)

// tierOrder lists owned-tool tiers from worst to best
var tierOrder = []Tier{TierWood, TierStone, TierIron, TierGold, TierDiamond}

func (t Tier) String() string {
	switch t {
	case TierWood:
		return "wood"
	case TierStone:
		return "stone"
	case TierIron:
		return "iron"
	case TierGold:
		return "gold"
	case TierDiamond:
		return "diamond"
	default:
		return "none"
	}
}

func parseTier(s string) (Tier, bool) {
	for _, t := range tierOrder {
		if strings.EqualFold(t.String(), strings.TrimSpace(s)) {
			return t, true
		}
	}
	return TierNone, false
}

// ToolKind identifies a craftable tool
type ToolKind string

const (
	ToolPickaxe    ToolKind = "pickaxe"
	ToolHoe        ToolKind = "hoe"
	ToolAxe        ToolKind = "axe"
	ToolFishingRod ToolKind = "fishing_rod"
	ToolSword      ToolKind = "sword"
)

var toolKinds = []ToolKind{ToolPickaxe, ToolAxe, ToolHoe, ToolFishingRod, ToolSword}

func (k ToolKind) Display() string {
	return strings.ReplaceAll(string(k), "_", " ")
}

var toolAliases = map[string]ToolKind{
	"pickaxe":     ToolPickaxe,
	"pick":        ToolPickaxe,
	"hoe":         ToolHoe,
	"axe":         ToolAxe,
	"fishingrod":  ToolFishingRod,
	"fishing_rod": ToolFishingRod,
	"rod":         ToolFishingRod,
	"sword":       ToolSword,
}

func parseToolKind(s string) (ToolKind, bool) {
	k, ok := toolAliases[normalizeName(s)]
	return k, ok
}

// Rarity describes the 1-5 creature rarity scale
type Rarity struct {
	Level    int
	Name     string
	Colour   string
	Wheat    int64
	Emeralds int64
	Stay     time.Duration
	// embed colour
	Color int
}

var rarities = map[int]Rarity{
	1: {Level: 1, Name: "common", Colour: "white", Wheat: 10, Emeralds: 1, Stay: 180 * time.Second, Color: 0xBCC0C0},
	2: {Level: 2, Name: "uncommon", Colour: "green", Wheat: 20, Emeralds: 2, Stay: 160 * time.Second, Color: 0x2ECC71},
	3: {Level: 3, Name: "rare", Colour: "blue", Wheat: 30, Emeralds: 3, Stay: 120 * time.Second, Color: 0x3498DB},
	4: {Level: 4, Name: "epic", Colour: "purple", Wheat: 50, Emeralds: 5, Stay: 90 * time.Second, Color: 0x9B59B6},
	5: {Level: 5, Name: "legendary", Colour: "red", Wheat: 80, Emeralds: 10, Stay: 60 * time.Second, Color: 0xE74C3C},
}

const maxRarity = 5

const goldenColor = 0xF1C40F

// Creature is a catchable (or not, if Hostile) mob
type Creature struct {
	Name    string
	Rarity  int
	Hostile bool
}

func (c Creature) RarityInfo() Rarity {
	return rarities[c.Rarity]
}

var creatures = []Creature{
	{"Zombie", 1, true},
	{"Enderman", 3, true},
	{"Cow", 1, false},
	{"Chicken", 1, false},
	{"Armadillo", 2, false},
	{"Cod", 1, true},
	{"Axolotl", 2, false},
	{"Dolphin", 2, false},
	{"Camel", 2, false},
	{"Donkey", 1, false},
	{"Frog", 3, false},
	{"Fox", 2, false},
	{"Snow Fox", 4, false},
	{"Glow Squid", 2, true},
	{"Goat", 3, false},
	{"Hoglin", 4, true},
	{"Horse", 1, false},
	{"Llama", 2, false},
	{"Mooshroom", 4, false},
	{"Ocelot", 3, false},
	{"Panda", 3, false},
	{"Brown Panda", 4, false},
	{"Parrot", 2, false},
	{"Pig", 1, false},
	{"Sheep", 1, false},
	{"Polar Bear", 1, true},
	{"Pufferfish", 2, true},
	{"Salmon", 1, true},
	{"Squid", 1, true},
	{"Strider", 2, false},
	{"Tropical Fish", 3, true},
	{"Turtle", 1, false},
	{"Wolf", 1, false},
	{"Cat", 1, false},
	{"Allay", 3, false},
	{"Bat", 2, true},
	{"Mule", 1, false},
	{"Skeleton Horse", 4, true},
	{"Sniffer", 5, false},
	{"Snow Golem", 4, true},
	{"Tadpole", 1, false},
	{"Bee", 1, false},
	{"Cave Spider", 1, true},
	{"Drowned", 1, true},
	{"Iron Golem", 3, true},
	{"Piglin", 2, true},
	{"Spider", 1, true},
	{"Zombie Pigman", 1, true},
	{"Sea Pickle", 5, false},
	{"Blaze", 2, true},
	{"Bogged", 1, true},
	{"Breeze", 3, true},
	{"Creaking", 4, true},
	{"Creeper", 1, true},
	{"Elder Guardian", 5, true},
	{"Ender Dragon", 5, true},
	{"Evoker", 3, true},
	{"Ghast", 1, true},
	{"Guardian", 2, true},
	{"Husk", 1, true},
	{"Magma Cube", 1, true},
	{"Phantom", 1, true},
	{"Pillager", 1, true},
	{"Ravager", 2, true},
	{"Shulker", 2, true},
	{"Silverfish", 2, true},
	{"Skeleton", 1, true},
	{"Slime", 1, true},
	{"Stray", 2, true},
	{"Vex", 3, true},
	{"Warden", 5, true},
	{"Witch", 1, true},
	{"Wither", 5, true},
	{"Wither Skeleton", 2, true},
	{"Zoglin", 3, true},
	{"Zombie Villager", 1, true},
	{"Copper Golem", 3, true},
	{"Happy Ghast", 3, true},
}

var creaturesByKey = func() map[string]Creature {
	m := make(map[string]Creature, len(creatures))
	for _, c := range creatures {
		m[normalizeName(c.Name)] = c
	}
	return m
}()

// lookupCreature finds a creature by name, ignoring case and whitespace
func lookupCreature(name string) (Creature, bool) {
	c, ok := creaturesByKey[normalizeName(name)]
	return c, ok
}

func creatureNames() []string {
	names := make([]string, len(creatures))
	for i, c := range creatures {
		names[i] = c.Name
	}
	return names
}

// Item names stored in the ledger
const (
	ItemWood           = "wood"
	ItemWheat          = "wheat"
	ItemCobblestone    = "cobblestone"
	ItemIron           = "iron"
	ItemGold           = "gold"
	ItemDiamond        = "diamond"
	ItemEmerald        = "emerald"
	ItemBossMobTicket  = "boss mob ticket"
	ItemExpBottle      = "exp bottle"
	ItemMysteryAnimal  = "mystery animal"
	ItemFishFood       = "fish food"
	ItemTotem          = "totem"
	ItemRichRole       = "rich role"
	itemCategoryRes    = "resource"
	itemCategoryCoin   = "emeralds"
	itemCategoryItems  = "items"
	fishFoodPerEmerald = 100
)

// ItemInfo is the ledger metadata for an item
type ItemInfo struct {
	Category string
	Useable  bool
}

var items = map[string]ItemInfo{
	ItemWood:          {Category: itemCategoryRes},
	ItemWheat:         {Category: itemCategoryRes},
	ItemCobblestone:   {Category: itemCategoryRes},
	ItemIron:          {Category: itemCategoryRes},
	ItemGold:          {Category: itemCategoryRes},
	ItemDiamond:       {Category: itemCategoryRes},
	ItemEmerald:       {Category: itemCategoryCoin},
	ItemBossMobTicket: {Category: itemCategoryItems, Useable: true},
	ItemExpBottle:     {Category: itemCategoryItems, Useable: true},
	ItemMysteryAnimal: {Category: itemCategoryItems, Useable: true},
	ItemFishFood:      {Category: itemCategoryItems, Useable: true},
	ItemTotem:         {Category: itemCategoryItems},
	ItemRichRole:      {Category: itemCategoryItems},
}

var itemAliases = map[string]string{
	"emeralds":       ItemEmerald,
	"exp":            ItemExpBottle,
	"experience":     ItemExpBottle,
	"xp":             ItemExpBottle,
	"pack":           ItemMysteryAnimal,
	"mobpack":        ItemMysteryAnimal,
	"mysterymobpack": ItemMysteryAnimal,
	"ticket":         ItemBossMobTicket,
	"bossticket":     ItemBossMobTicket,
	"mobticket":      ItemBossMobTicket,
	"bossmob":        ItemBossMobTicket,
	"cobble":         ItemCobblestone,
	"diamonds":       ItemDiamond,
	"food":           ItemFishFood,
	"totemofundying": ItemTotem,
	"rich":           ItemRichRole,
}

// lookupItem resolves an item name or alias
func lookupItem(name string) (string, ItemInfo, bool) {
	key := normalizeName(name)
	if alias, ok := itemAliases[key]; ok {
		return alias, items[alias], true
	}
	for itemName, info := range items {
		if normalizeName(itemName) == key {
			return itemName, info, true
		}
	}
	return "", ItemInfo{}, false
}

func itemNames() []string {
	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func itemInfo(name string) ItemInfo {
	if info, ok := items[name]; ok {
		return info
	}
	return ItemInfo{Category: itemCategoryRes}
}

// per-tier yields
var (
	wheatAverage = map[Tier]int64{
		TierNone: 2, TierWood: 3, TierStone: 4, TierIron: 5, TierGold: 6, TierDiamond: 7,
	}
	woodPerChop = map[Tier]int64{
		TierNone: 1, TierWood: 2, TierStone: 3, TierIron: 4, TierGold: 5, TierDiamond: 6,
	}
	swordBonus = map[Tier]int64{
		TierNone: 0, TierWood: 0, TierStone: 1, TierIron: 2, TierGold: 3, TierDiamond: 5,
	}
	// a fish bites when a 0-100 roll beats the rod's threshold
	fishingThreshold = map[Tier]int{
		TierWood: 50, TierStone: 40, TierIron: 30, TierGold: 20, TierDiamond: 10,
	}
)

type weightedDrop struct {
	Item   string
	Weight int
}

var dropTables = map[Tier][]weightedDrop{
	TierWood:    {{ItemCobblestone, 80}, {ItemIron, 15}, {ItemGold, 4}, {ItemDiamond, 1}},
	TierStone:   {{ItemCobblestone, 70}, {ItemIron, 20}, {ItemGold, 8}, {ItemDiamond, 2}},
	TierIron:    {{ItemCobblestone, 50}, {ItemIron, 30}, {ItemGold, 16}, {ItemDiamond, 4}},
	TierGold:    {{ItemCobblestone, 25}, {ItemIron, 25}, {ItemGold, 25}, {ItemDiamond, 25}},
	TierDiamond: {{ItemCobblestone, 10}, {ItemIron, 10}, {ItemGold, 35}, {ItemDiamond, 45}},
}

type amountRange struct {
	Min int64
	Max int64
}

var mineAmounts = map[string]amountRange{
	ItemCobblestone: {1, 3},
	ItemIron:        {1, 2},
	ItemGold:        {1, 2},
	ItemDiamond:     {1, 1},
}

// Recipe is the cost and resulting durability of a tool
type Recipe struct {
	Wood     int64
	OreCount int64
	Ore      string
	Uses     int
}

type recipeKey struct {
	Kind ToolKind
	Tier Tier
}

var tierOre = map[Tier]string{
	TierStone:   ItemCobblestone,
	TierIron:    ItemIron,
	TierGold:    ItemGold,
	TierDiamond: ItemDiamond,
}

var recipes = func() map[recipeKey]Recipe {
	m := map[recipeKey]Recipe{}
	for _, t := range tierOrder {
		m[recipeKey{ToolFishingRod, t}] = Recipe{Wood: 3, Uses: 10}
		if t == TierWood {
			m[recipeKey{ToolPickaxe, t}] = Recipe{Wood: 4, Uses: 10}
			m[recipeKey{ToolHoe, t}] = Recipe{Wood: 4, Uses: 10}
			m[recipeKey{ToolAxe, t}] = Recipe{Wood: 4, Uses: 5}
			continue
		}
		ore := tierOre[t]
		m[recipeKey{ToolPickaxe, t}] = Recipe{Wood: 1, OreCount: 3, Ore: ore, Uses: 10}
		m[recipeKey{ToolHoe, t}] = Recipe{Wood: 1, OreCount: 2, Ore: ore, Uses: 10}
		m[recipeKey{ToolAxe, t}] = Recipe{Wood: 1, OreCount: 3, Ore: ore, Uses: 10}
		m[recipeKey{ToolSword, t}] = Recipe{Wood: 1, OreCount: 2, Ore: ore, Uses: 3}
	}
	return m
}()

func lookupRecipe(kind ToolKind, tier Tier) (Recipe, bool) {
	r, ok := recipes[recipeKey{kind, tier}]
	return r, ok
}

// Cost lists the items consumed by a recipe
func (r Recipe) Cost() map[string]int64 {
	cost := map[string]int64{}
	if r.Wood > 0 {
		cost[ItemWood] = r.Wood
	}
	if r.OreCount > 0 {
		cost[r.Ore] += r.OreCount
	}
	return cost
}

func (r Recipe) String() string {
	if r.OreCount == 0 {
		return fmt.Sprintf("%d wood", r.Wood)
	}
	return fmt.Sprintf("%d wood + %d %s", r.Wood, r.OreCount, r.Ore)
}

const totemDiamondCost = 2

// Levels, milestones and the roles they grant
var (
	levelThresholds = []int64{
		7, 16, 27, 40, 55, 72, 91, 112, 135, 160,
		187, 216, 247, 280, 315, 352, 394, 441, 493, 550,
		612, 679, 751, 828, 910, 997, 1089, 1186, 1288, 1395,
		1507, 1628, 1758, 1897, 2045, 2202, 2368, 2543, 2727, 2920,
		3122, 3333, 3553, 3782, 4020, 4267, 4523, 4788, 5062, 5345,
		5637, 5938, 6248, 6567, 6895, 7232, 7578, 7933, 8297, 8670,
	}
	milestoneLevels = []int{10, 20, 30, 40, 50}
	milestoneRoles  = map[int]string{
		10: "Iron",
		20: "Gold",
		30: "Diamond",
		40: "Netherite",
	}
)

// fish appearance
var (
	fishColors = []string{
		"orange", "magenta", "light_blue", "yellow", "lime", "pink",
		"gray", "cyan", "purple", "blue", "brown", "green", "red",
	}
	fishTypes = []string{
		"flopper", "stripey", "glitter", "blockfish", "betty", "clayfish",
		"kob", "sunstreak", "snooper", "dasher", "brinely", "spotty",
	}
)

const (
	maxAquariumFish = 30
	aquariumMaxAge  = 24 * time.Hour
)

// stronghold tuning
const (
	strongholdEntryCost  = 6
	strongholdFinalRoom  = 25
	strongholdPathCount  = 4
	strongholdTotemSaves = 1
)

var deathMessages = []string{
	"💀 You ran into lava.",
	"☠️ You fell down a hole.",
	"👻 You didn't see the creeper around the corner.",
	"🕸️ The silverfish got you.",
	"🧟 You got lost and starved.",
}

type lootRange struct {
	Item string
	amountRange
}

type lootTier struct {
	MinRoom int
	Loot    []lootRange
}

// strongholdLoot is ordered by MinRoom; the tier for a room is the last
// entry whose MinRoom is <= the room
var strongholdLoot = []lootTier{
	{1, []lootRange{
		{ItemWood, amountRange{1, 3}},
		{ItemWheat, amountRange{1, 3}},
		{ItemCobblestone, amountRange{1, 2}},
		{ItemIron, amountRange{1, 1}},
	}},
	{5, []lootRange{
		{ItemWood, amountRange{3, 10}},
		{ItemWheat, amountRange{3, 10}},
		{ItemCobblestone, amountRange{2, 4}},
		{ItemIron, amountRange{2, 4}},
		{ItemGold, amountRange{2, 4}},
	}},
	{10, []lootRange{
		{ItemWood, amountRange{10, 20}},
		{ItemWheat, amountRange{10, 20}},
		{ItemCobblestone, amountRange{10, 20}},
		{ItemIron, amountRange{8, 16}},
		{ItemGold, amountRange{5, 10}},
		{ItemDiamond, amountRange{1, 1}},
	}},
	{15, []lootRange{
		{ItemWood, amountRange{20, 30}},
		{ItemWheat, amountRange{20, 30}},
		{ItemCobblestone, amountRange{10, 20}},
		{ItemIron, amountRange{6, 10}},
		{ItemGold, amountRange{8, 16}},
		{ItemDiamond, amountRange{2, 10}},
		{ItemEmerald, amountRange{2, 10}},
	}},
	{20, []lootRange{
		{ItemWood, amountRange{40, 100}},
		{ItemWheat, amountRange{40, 100}},
		{ItemCobblestone, amountRange{40, 100}},
		{ItemIron, amountRange{20, 80}},
		{ItemGold, amountRange{15, 50}},
		{ItemDiamond, amountRange{15, 50}},
		{ItemEmerald, amountRange{15, 100}},
		{ItemBossMobTicket, amountRange{1, 1}},
	}},
}

func lootTierFor(room int) lootTier {
	tier := strongholdLoot[0]
	for _, t := range strongholdLoot {
		if t.MinRoom <= room {
			tier = t
		}
	}
	return tier
}

// shop seed data, inserted on first migration
var defaultShopItems = []ShopItem{
	{Name: ItemExpBottle, Price: 1, DailyLimit: 50, Description: "Drink for 1 experience each"},
	{Name: ItemMysteryAnimal, Price: 5, DailyLimit: 10, Description: "A random friendly creature for your pen"},
	{Name: ItemBossMobTicket, Price: 50, DailyLimit: 1, Description: "Challenge the server to a boss fight"},
	{Name: ItemRichRole, Price: 1000, DailyLimit: 1, Description: "Show everyone you made it"},
}

const (
	penBaseSize         = 5
	penUpgradeWoodStep  = 3
	earlyCatchBonus     = 1
	goldenRewardFactor  = 2
	leaderboardSize     = 10
	shopPurchaseWindow  = 24 * time.Hour
	defaultGiveMobLimit = 100
)
