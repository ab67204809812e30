// Package craftcord implements a Discord bot that runs a Minecraft-flavoured
// gathering and collection game in chat.
//
// Players chop wood, mine, farm and fish on per-user cooldowns, craft tools
// that wear out, and catch creatures that spawn in configured channels.
// Caught creatures go into a pen, where they can be bred, given away or
// sacrificed for emeralds. Chat activity earns experience, and levels
// unlock roles.
//
// Key components of the package include:
//
//   - CraftCord: The main struct, which owns the database, the Discord
//     session and every background task.
//   - Discord: Handles the gateway session and event handlers.
//   - API: Provides a backend API for bot management and monitoring, and
//     serves rendered spawn images.
//   - DBI: Persists the item ledger, tools, pens, spawns and guild
//     settings through GORM, on SQLite or PostgreSQL.
//   - TaskRegistry: Runs the per-guild spawn loops and the scheduler.
//
// The bot supports various commands, including:
//
//   - chop, mine, farm, fish: Gather resources with the best tool owned.
//   - craft, recipe: Make and price tools.
//   - pen, breed, sacrifice, give: Manage caught creatures.
//   - stronghold: A short button-driven dungeon run.
//   - linkyt, yt: Link a YouTube channel and show it off.
//
// Guild administrators configure the prefix and channels with chat
// commands, and the API can change runtime configuration for every
// running instance at once.
package craftcord
